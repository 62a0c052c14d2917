package message

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"

	"conchat/internal/backend"
)

// Repository manages room logs on the backend
type Repository interface {
	Append(ctx context.Context, roomID string, msg *Message) (string, error)
	List(ctx context.Context, roomID string) ([]*Message, error)
	Delete(ctx context.Context, roomID, key string) error
	Clear(ctx context.Context, roomID string) error
	Watch(ctx context.Context, roomID string, fn func([]*Message)) (backend.Subscription, error)
}

// BackendRepository implements Repository on the realtime backend
type BackendRepository struct {
	store backend.Backend
}

// NewBackendRepository creates a message repository over store
func NewBackendRepository(store backend.Backend) *BackendRepository {
	return &BackendRepository{store: store}
}

func logPath(roomID string) string {
	return backend.Join(backend.MessagesPath, roomID)
}

// Append writes msg as a single pushed record and sets its key
func (r *BackendRepository) Append(ctx context.Context, roomID string, msg *Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	key, err := r.store.Push(ctx, logPath(roomID), data)
	if err != nil {
		return "", backend.Wrap("push", logPath(roomID), err)
	}
	msg.Key = key
	return key, nil
}

// List returns the log in order
func (r *BackendRepository) List(ctx context.Context, roomID string) ([]*Message, error) {
	children, err := r.store.Children(ctx, logPath(roomID))
	if err != nil {
		return nil, backend.Wrap("children", logPath(roomID), err)
	}
	return decodeLog(roomID, children), nil
}

func (r *BackendRepository) Delete(ctx context.Context, roomID, key string) error {
	path := backend.Join(logPath(roomID), key)
	return backend.Wrap("delete", path, r.store.Delete(ctx, path))
}

func (r *BackendRepository) Clear(ctx context.Context, roomID string) error {
	return backend.Wrap("delete", logPath(roomID), r.store.Delete(ctx, logPath(roomID)))
}

// Watch delivers the whole decoded log on every change
func (r *BackendRepository) Watch(ctx context.Context, roomID string, fn func([]*Message)) (backend.Subscription, error) {
	sub, err := r.store.Subscribe(ctx, logPath(roomID), func(children map[string][]byte) {
		fn(decodeLog(roomID, children))
	})
	if err != nil {
		return nil, backend.Wrap("subscribe", logPath(roomID), err)
	}
	return sub, nil
}

func decodeLog(roomID string, children map[string][]byte) []*Message {
	msgs := make([]*Message, 0, len(children))
	for key, data := range children {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			glog.Warningf("⚠️ Skipping undecodable message %s in room %s: %v", key, roomID, err)
			continue
		}
		msg.Key = key
		msgs = append(msgs, &msg)
	}
	Sort(msgs)
	return msgs
}
