package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"conchat/internal/backend"
)

// Repository manages room records
type Repository interface {
	Insert(ctx context.Context, room *Room) (string, error)
	Save(ctx context.Context, room *Room) error
	Get(ctx context.Context, id string) (*Room, error)
	FindByName(ctx context.Context, name string) ([]*Room, error)
	All(ctx context.Context) ([]*Room, error)
	Delete(ctx context.Context, id string) error
}

// BackendRepository implements Repository on the realtime backend
type BackendRepository struct {
	store backend.Backend
}

// NewBackendRepository creates a room repository over store
func NewBackendRepository(store backend.Backend) *BackendRepository {
	return &BackendRepository{store: store}
}

func roomPath(id string) string {
	return backend.Join(backend.RoomsPath, id)
}

func decodeRoom(id string, data []byte) (*Room, error) {
	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to decode room %s: %w", id, err)
	}
	room.ID = id
	return &room, nil
}

// Insert pushes a new room record and returns the generated id
func (r *BackendRepository) Insert(ctx context.Context, room *Room) (string, error) {
	data, err := json.Marshal(room)
	if err != nil {
		return "", fmt.Errorf("failed to encode room: %w", err)
	}
	id, err := r.store.Push(ctx, backend.RoomsPath, data)
	if err != nil {
		return "", backend.Wrap("push", backend.RoomsPath, err)
	}
	room.ID = id
	return id, nil
}

// Save writes the whole room record, replacing the member list
func (r *BackendRepository) Save(ctx context.Context, room *Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to encode room: %w", err)
	}
	return backend.Wrap("write", roomPath(room.ID), r.store.Write(ctx, roomPath(room.ID), data))
}

// Get reads a room by id
func (r *BackendRepository) Get(ctx context.Context, id string) (*Room, error) {
	data, err := r.store.Read(ctx, roomPath(id))
	if errors.Is(err, backend.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, backend.Wrap("read", roomPath(id), err)
	}
	return decodeRoom(id, data)
}

// FindByName returns every room record carrying name
func (r *BackendRepository) FindByName(ctx context.Context, name string) ([]*Room, error) {
	found, err := r.store.FindWhere(ctx, backend.RoomsPath, "name", name)
	if err != nil {
		return nil, backend.Wrap("find", backend.RoomsPath, err)
	}
	return decodeAll(found), nil
}

// All returns every room record
func (r *BackendRepository) All(ctx context.Context) ([]*Room, error) {
	children, err := r.store.Children(ctx, backend.RoomsPath)
	if err != nil {
		return nil, backend.Wrap("children", backend.RoomsPath, err)
	}
	return decodeAll(children), nil
}

// Delete removes the room record and its message log
func (r *BackendRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, roomPath(id)); err != nil {
		return backend.Wrap("delete", roomPath(id), err)
	}
	logPath := backend.Join(backend.MessagesPath, id)
	return backend.Wrap("delete", logPath, r.store.Delete(ctx, logPath))
}

func decodeAll(records map[string][]byte) []*Room {
	rooms := make([]*Room, 0, len(records))
	for id, data := range records {
		room, err := decodeRoom(id, data)
		if err != nil {
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms
}
