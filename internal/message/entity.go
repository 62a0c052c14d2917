package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Type identifies the payload carried by a message
type Type string

const (
	TypeText                Type = "text"
	TypeStyleChange         Type = "styleChange"
	TypeTextChange          Type = "textChange"
	TypeAttributeChange     Type = "attributeChange"
	TypeInsertElement       Type = "insertElement"
	TypeRemoveElement       Type = "removeElement"
	TypeEnterRoom           Type = "enterRoom"
	TypeLeaveRoom           Type = "leaveRoom"
	TypeTreeSnapshotRequest Type = "treeSnapshotRequest"
	TypeTreeSnapshot        Type = "treeSnapshot"
)

var types = map[Type]bool{
	TypeText: true, TypeStyleChange: true, TypeTextChange: true,
	TypeAttributeChange: true, TypeInsertElement: true, TypeRemoveElement: true,
	TypeEnterRoom: true, TypeLeaveRoom: true,
	TypeTreeSnapshotRequest: true, TypeTreeSnapshot: true,
}

// Valid reports whether t is a known type
func (t Type) Valid() bool {
	return types[t]
}

// IsEdit reports whether t mutates the page
func (t Type) IsEdit() bool {
	switch t {
	case TypeStyleChange, TypeTextChange, TypeAttributeChange, TypeInsertElement, TypeRemoveElement:
		return true
	}
	return false
}

// IsTreeSharing reports whether t belongs to the tree snapshot exchange,
// which is processed at most once per key.
func (t Type) IsTreeSharing() bool {
	return t == TypeTreeSnapshotRequest || t == TypeTreeSnapshot
}

// Message is an immutable entry in a room log at messages/{roomID}/{key}.
// Key is the log-assigned child key and is not part of the stored value.
type Message struct {
	Key       string          `json:"-"`
	Type      Type            `json:"type"`
	Username  string          `json:"username"`
	SenderID  string          `json:"senderId"`
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp"`
}

// New builds a message with payload encoded as its content and the
// current time in milliseconds.
func New(typ Type, username, senderID string, payload any) (*Message, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown message type %q", typ)
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s content: %w", typ, err)
	}
	return &Message{
		Type:      typ,
		Username:  username,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Decode unmarshals the content into payload
func (m *Message) Decode(payload any) error {
	if len(m.Content) == 0 {
		return errors.New("message has no content")
	}
	if err := json.Unmarshal(m.Content, payload); err != nil {
		return fmt.Errorf("failed to decode %s content: %w", m.Type, err)
	}
	return nil
}

// Time returns the timestamp as a time.Time
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Less orders by timestamp, then by key compared as strings
func Less(a, b *Message) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.Key < b.Key
}

// After reports whether m comes strictly after the (timestamp, key) mark
func (m *Message) After(timestamp int64, key string) bool {
	if m.Timestamp != timestamp {
		return m.Timestamp > timestamp
	}
	return m.Key > key
}

// Sort sorts msgs in log order
func Sort(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return Less(msgs[i], msgs[j]) })
}

func (m *Message) validate() error {
	if m == nil {
		return errors.New("message cannot be nil")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Username == "" {
		return errors.New("message username cannot be empty")
	}
	if len(m.Content) == 0 {
		return errors.New("message content cannot be empty")
	}
	return nil
}
