package message

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"

	"conchat/internal/backend"
	"conchat/internal/metrics"
)

// BatchFunc receives the full sorted log of roomID after every change
type BatchFunc func(roomID string, msgs []*Message)

// Subscription is a handle to a room log subscription
type Subscription struct {
	RoomID string
	sub    backend.Subscription
}

// Store is the ordered log of messages per room
type Store interface {
	Append(ctx context.Context, roomID string, msg *Message) (string, error)
	Subscribe(ctx context.Context, roomID string, fn BatchFunc) (*Subscription, error)
	Unsubscribe(handle *Subscription) error
	Clear(ctx context.Context, roomID string) error
	Prune(ctx context.Context, roomID string, keep int) (int, error)
	History(ctx context.Context, roomID string) ([]*Message, error)
	SetRetention(keep int)
}

// store implements Store
type store struct {
	repo      Repository
	retention atomic.Int64
}

// NewStore creates a message store. retention is the number of newest
// messages kept per room after each append; 0 keeps everything.
func NewStore(repo Repository, retention int) Store {
	s := &store{repo: repo}
	s.retention.Store(int64(retention))
	return s
}

// SetRetention changes the retention window for later appends
func (s *store) SetRetention(keep int) {
	s.retention.Store(int64(keep))
}

// Append writes msg to the room log. Pruning failures are logged only.
func (s *store) Append(ctx context.Context, roomID string, msg *Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", fmt.Errorf("invalid message: %w", err)
	}

	key, err := s.repo.Append(ctx, roomID, msg)
	if err != nil {
		return "", err
	}

	glog.V(2).Infof("💬 %s appended %s to room %s (%s)", msg.Username, msg.Type, roomID, key)
	metrics.MessagesAppended.WithLabelValues(string(msg.Type)).Inc()

	if keep := int(s.retention.Load()); keep > 0 {
		if _, err := s.Prune(ctx, roomID, keep); err != nil {
			glog.Warningf("⚠️ Failed to prune room %s: %v", roomID, err)
		}
	}
	return key, nil
}

func (s *store) Subscribe(ctx context.Context, roomID string, fn BatchFunc) (*Subscription, error) {
	sub, err := s.repo.Watch(ctx, roomID, func(msgs []*Message) {
		fn(roomID, msgs)
	})
	if err != nil {
		return nil, err
	}
	return &Subscription{RoomID: roomID, sub: sub}, nil
}

func (s *store) Unsubscribe(handle *Subscription) error {
	if handle == nil || handle.sub == nil {
		return nil
	}
	return handle.sub.Unsubscribe()
}

func (s *store) Clear(ctx context.Context, roomID string) error {
	if err := s.repo.Clear(ctx, roomID); err != nil {
		return err
	}
	glog.Infof("🧹 Cleared message log of room %s", roomID)
	return nil
}

// Prune deletes the oldest messages beyond the newest keep and returns how
// many were removed.
func (s *store) Prune(ctx context.Context, roomID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	msgs, err := s.repo.List(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if len(msgs) <= keep {
		return 0, nil
	}

	stale := msgs[:len(msgs)-keep]
	for i, msg := range stale {
		if err := s.repo.Delete(ctx, roomID, msg.Key); err != nil {
			return i, err
		}
	}
	return len(stale), nil
}

func (s *store) History(ctx context.Context, roomID string) ([]*Message, error) {
	return s.repo.List(ctx, roomID)
}
