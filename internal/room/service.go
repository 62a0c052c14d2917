package room

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"

	"conchat/internal/metrics"
)

var (
	ErrNotFound    = errors.New("room not found")
	ErrNameTaken   = errors.New("room name already taken")
	ErrKeyMismatch = errors.New("room key does not match")
	ErrPublicRoom  = errors.New("the public room cannot be deleted")
)

// Directory handles room records. Member list changes read the record,
// change it locally and write it back whole; concurrent writers can lose
// updates.
type Directory interface {
	EnsurePublic(ctx context.Context) error
	FindByName(ctx context.Context, name string) (*Room, error)
	Authorize(ctx context.Context, name, key string) (*Room, error)
	Create(ctx context.Context, name, creatorID string) (*Room, error)
	Get(ctx context.Context, id string) (*Room, error)
	AddMember(ctx context.Context, id, userID string) error
	RemoveMember(ctx context.Context, id, userID string) error
	DeleteIfEmpty(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	IsNameTaken(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]*Room, error)
	Names(ctx context.Context) ([]string, error)
}

// directory implements Directory
type directory struct {
	repo       Repository
	publicID   string
	publicName string
}

// NewDirectory creates a new room directory. The public room is addressed
// by publicID and its name is reserved.
func NewDirectory(repo Repository, publicID, publicName string) Directory {
	return &directory{
		repo:       repo,
		publicID:   publicID,
		publicName: publicName,
	}
}

// EnsurePublic writes the public room record if it does not exist yet
func (d *directory) EnsurePublic(ctx context.Context) error {
	_, err := d.repo.Get(ctx, d.publicID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	public := &Room{
		ID:        d.publicID,
		Name:      d.publicName,
		MemberIDs: []string{},
		CreatedAt: time.Now().UTC(),
	}
	return d.repo.Save(ctx, public)
}

// FindByName returns the debug room called name. The public room is not
// found this way. If a race left duplicates, the oldest wins.
func (d *directory) FindByName(ctx context.Context, name string) (*Room, error) {
	rooms, err := d.repo.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	rooms = slices.DeleteFunc(rooms, func(r *Room) bool { return r.ID == d.publicID })
	if len(rooms) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms[0], nil
}

// Authorize finds the room by name and checks key against its id
func (d *directory) Authorize(ctx context.Context, name, key string) (*Room, error) {
	room, err := d.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if room.ID != key {
		return nil, ErrKeyMismatch
	}
	return room, nil
}

// IsNameTaken reports whether a room called name exists. The public room
// name is always taken.
func (d *directory) IsNameTaken(ctx context.Context, name string) (bool, error) {
	if name == d.publicName {
		return true, nil
	}
	_, err := d.FindByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Create allocates a new room with the creator as its only member
func (d *directory) Create(ctx context.Context, name, creatorID string) (*Room, error) {
	taken, err := d.IsNameTaken(ctx, name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrNameTaken
	}

	room := &Room{
		Name:      name,
		MemberIDs: []string{creatorID},
		CreatedBy: creatorID,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := d.repo.Insert(ctx, room); err != nil {
		return nil, err
	}

	glog.Infof("🏠 Room '%s' created by %s", name, creatorID)
	metrics.RoomsCreated.Inc()
	return room, nil
}

func (d *directory) Get(ctx context.Context, id string) (*Room, error) {
	return d.repo.Get(ctx, id)
}

// AddMember adds userID once
func (d *directory) AddMember(ctx context.Context, id, userID string) error {
	room, err := d.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if room.HasMember(userID) {
		return nil
	}
	room.MemberIDs = append(room.MemberIDs, userID)
	if err := d.repo.Save(ctx, room); err != nil {
		return err
	}

	glog.Infof("🚪 User %s joined room '%s' (%d members)", userID, room.Name, len(room.MemberIDs))
	return nil
}

// RemoveMember removes every occurrence of userID. A missing room is not
// an error.
func (d *directory) RemoveMember(ctx context.Context, id, userID string) error {
	room, err := d.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !room.HasMember(userID) {
		return nil
	}
	room.MemberIDs = slices.DeleteFunc(room.MemberIDs, func(m string) bool { return m == userID })
	if err := d.repo.Save(ctx, room); err != nil {
		return err
	}

	glog.Infof("🚪 User %s left room '%s' (%d members)", userID, room.Name, len(room.MemberIDs))
	return nil
}

// DeleteIfEmpty deletes a non-public room with no members and reports
// whether it did.
func (d *directory) DeleteIfEmpty(ctx context.Context, id string) (bool, error) {
	if id == d.publicID {
		return false, nil
	}
	room, err := d.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !room.IsEmpty() {
		return false, nil
	}
	if err := d.repo.Delete(ctx, id); err != nil {
		return false, err
	}

	glog.Infof("🗑️ Room '%s' deleted (empty)", room.Name)
	metrics.RoomsDeleted.Inc()
	return true, nil
}

// Delete removes a room and its log regardless of members
func (d *directory) Delete(ctx context.Context, id string) error {
	if id == d.publicID {
		return ErrPublicRoom
	}
	return d.repo.Delete(ctx, id)
}

// List returns the debug rooms sorted by name. The public room is excluded.
func (d *directory) List(ctx context.Context) ([]*Room, error) {
	rooms, err := d.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	rooms = slices.DeleteFunc(rooms, func(r *Room) bool { return r.ID == d.publicID })
	sort.Slice(rooms, func(i, j int) bool {
		if c := strings.Compare(rooms[i].Name, rooms[j].Name); c != 0 {
			return c < 0
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms, nil
}

func (d *directory) Names(ctx context.Context) ([]string, error) {
	rooms, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(rooms))
	for i, r := range rooms {
		names[i] = r.Name
	}
	return names, nil
}
