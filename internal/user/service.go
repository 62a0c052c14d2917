package user

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"conchat/internal/metrics"
)

// ErrNameTaken is returned when another user already has the display name.
var ErrNameTaken = errors.New("display name already taken")

// Directory handles user records
type Directory interface {
	Register(ctx context.Context, displayName, roomID string) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
	IsNameTaken(ctx context.Context, name string) (bool, error)
	Rename(ctx context.Context, id, name string) error
	SetCurrentRoom(ctx context.Context, id, roomID string) error
	Delete(ctx context.Context, id string) error
}

// directory implements Directory
type directory struct {
	repo Repository
}

// NewDirectory creates a new user directory
func NewDirectory(repo Repository) Directory {
	return &directory{repo: repo}
}

// Register creates a user record with a fresh id. Default display names
// are shared by every unnamed session, so no uniqueness check happens here.
func (d *directory) Register(ctx context.Context, displayName, roomID string) (*User, error) {
	user := &User{
		ID:            uuid.NewString(),
		DisplayName:   displayName,
		CurrentRoomID: roomID,
		JoinedAt:      time.Now().UTC(),
	}
	if err := d.repo.Save(ctx, user); err != nil {
		return nil, err
	}

	glog.Infof("👤 User registered: %s (%s)", displayName, user.ID)
	metrics.UsersRegistered.Inc()
	return user, nil
}

func (d *directory) Get(ctx context.Context, id string) (*User, error) {
	return d.repo.Get(ctx, id)
}

// IsNameTaken checks all user records for an exact, case-sensitive match
func (d *directory) IsNameTaken(ctx context.Context, name string) (bool, error) {
	users, err := d.repo.FindByDisplayName(ctx, name)
	if err != nil {
		return false, err
	}
	return len(users) > 0, nil
}

// Rename checks the name and then commits it. The two steps are not atomic.
func (d *directory) Rename(ctx context.Context, id, name string) error {
	taken, err := d.IsNameTaken(ctx, name)
	if err != nil {
		return err
	}
	if taken {
		return ErrNameTaken
	}

	user, err := d.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	previous := user.DisplayName
	user.DisplayName = name
	if err := d.repo.Save(ctx, user); err != nil {
		return err
	}

	glog.Infof("✏️ User %s renamed: %s -> %s", id, previous, name)
	return nil
}

func (d *directory) SetCurrentRoom(ctx context.Context, id, roomID string) error {
	user, err := d.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	user.CurrentRoomID = roomID
	return d.repo.Save(ctx, user)
}

func (d *directory) Delete(ctx context.Context, id string) error {
	if err := d.repo.Delete(ctx, id); err != nil {
		return err
	}
	glog.Infof("👋 User unregistered: %s", id)
	return nil
}
