package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"conchat/internal/backend"
)

// ErrNotFound is returned when no user record exists for an id.
var ErrNotFound = errors.New("user not found")

// Repository manages user records
type Repository interface {
	Save(ctx context.Context, user *User) error
	Get(ctx context.Context, id string) (*User, error)
	FindByDisplayName(ctx context.Context, name string) ([]*User, error)
	Delete(ctx context.Context, id string) error
}

// BackendRepository implements Repository on the realtime backend
type BackendRepository struct {
	store backend.Backend
}

// NewBackendRepository creates a user repository over store
func NewBackendRepository(store backend.Backend) *BackendRepository {
	return &BackendRepository{store: store}
}

func userPath(id string) string {
	return backend.Join(backend.UsersPath, id)
}

// Save writes the whole user record
func (r *BackendRepository) Save(ctx context.Context, user *User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return backend.Wrap("write", userPath(user.ID), r.store.Write(ctx, userPath(user.ID), data))
}

// Get reads a user by id
func (r *BackendRepository) Get(ctx context.Context, id string) (*User, error) {
	data, err := r.store.Read(ctx, userPath(id))
	if errors.Is(err, backend.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, backend.Wrap("read", userPath(id), err)
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", id, err)
	}
	user.ID = id
	return &user, nil
}

// FindByDisplayName returns every user whose display name equals name exactly
func (r *BackendRepository) FindByDisplayName(ctx context.Context, name string) ([]*User, error) {
	found, err := r.store.FindWhere(ctx, backend.UsersPath, "displayName", name)
	if err != nil {
		return nil, backend.Wrap("find", backend.UsersPath, err)
	}

	users := make([]*User, 0, len(found))
	for id, data := range found {
		var user User
		if err := json.Unmarshal(data, &user); err != nil {
			continue
		}
		user.ID = id
		users = append(users, &user)
	}
	return users, nil
}

// Delete removes a user record
func (r *BackendRepository) Delete(ctx context.Context, id string) error {
	return backend.Wrap("delete", userPath(id), r.store.Delete(ctx, userPath(id)))
}
