// Package replicator turns full room log snapshots into an ordered stream
// of newly seen messages dispatched to per-type handlers.
package replicator

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"conchat/internal/message"
	"conchat/internal/metrics"
)

// Handler processes one dispatched message
type Handler func(msg *message.Message)

// watermark is the (timestamp, key) of the last message dispatched from a room
type watermark struct {
	ts  int64
	key string
}

// Replicator follows one room log at a time. Chat, edit and presence
// messages are dispatched once each past a per-room (timestamp, key)
// watermark kept across subscriptions, so only a room followed for the
// first time replays its history. Tree sharing messages are dispatched at
// most once per key for the replicator's lifetime.
type Replicator struct {
	store message.Store

	mu       sync.Mutex
	handlers map[message.Type]Handler
	active   *message.Subscription
	roomID   string
	gen      uint64
	marks    map[string]watermark
	seen     map[string]struct{}
}

// New creates a replicator reading from store
func New(store message.Store) *Replicator {
	return &Replicator{
		store:    store,
		handlers: make(map[message.Type]Handler),
		marks:    make(map[string]watermark),
		seen:     make(map[string]struct{}),
	}
}

// Handle registers the handler for typ, replacing any previous one
func (r *Replicator) Handle(typ message.Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

// RoomID returns the room currently followed, or "" when unsubscribed
func (r *Replicator) RoomID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

// Subscribe follows roomID. The previous subscription is removed before
// the new one is installed.
func (r *Replicator) Subscribe(ctx context.Context, roomID string) error {
	if err := r.Unsubscribe(); err != nil {
		glog.Warningf("⚠️ Failed to unsubscribe before switching to %s: %v", roomID, err)
	}

	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.roomID = roomID
	r.mu.Unlock()

	sub, err := r.store.Subscribe(ctx, roomID, func(room string, msgs []*message.Message) {
		r.deliver(gen, room, msgs)
	})
	if err != nil {
		r.mu.Lock()
		if r.gen == gen {
			r.roomID = ""
		}
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return r.store.Unsubscribe(sub)
	}
	r.active = sub
	r.mu.Unlock()

	glog.V(1).Infof("📡 Following room %s", roomID)
	return nil
}

// Unsubscribe stops following the current room. Deliveries still in
// flight for it are discarded.
func (r *Replicator) Unsubscribe() error {
	r.mu.Lock()
	active := r.active
	r.active = nil
	r.roomID = ""
	r.gen++
	r.mu.Unlock()

	if active == nil {
		return nil
	}
	return r.store.Unsubscribe(active)
}

// deliver dispatches the messages of one snapshot that are new to this
// replicator. Each message is claimed under the lock and dispatched after
// releasing it, so handlers may call back into the replicator. A message
// is only claimed while gen is still current; the rest are left for the
// next subscription to the room.
func (r *Replicator) deliver(gen uint64, roomID string, msgs []*message.Message) {
	sorted := make([]*message.Message, len(msgs))
	copy(sorted, msgs)
	message.Sort(sorted)

	for _, msg := range sorted {
		h, ok := r.claim(gen, roomID, msg)
		if !ok {
			glog.V(2).Infof("📡 Discarding late snapshot for room %s", roomID)
			return
		}
		if h == nil {
			continue
		}
		glog.V(2).Infof("📨 Dispatching %s %s from %s", msg.Type, msg.Key, msg.Username)
		metrics.MessagesDispatched.WithLabelValues(string(msg.Type)).Inc()
		h(msg)
	}
}

// claim marks msg as handled and returns its handler, which is nil when
// msg was already handled or has no handler. ok is false once gen is stale.
func (r *Replicator) claim(gen uint64, roomID string, msg *message.Message) (h Handler, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen || roomID != r.roomID {
		return nil, false
	}
	if msg.Type.IsTreeSharing() {
		if _, done := r.seen[msg.Key]; done {
			return nil, true
		}
		r.seen[msg.Key] = struct{}{}
	} else {
		mark := r.marks[roomID]
		if !msg.After(mark.ts, mark.key) {
			return nil, true
		}
		r.marks[roomID] = watermark{ts: msg.Timestamp, key: msg.Key}
	}
	return r.handlers[msg.Type], true
}
