// Package backend abstracts the realtime key-value store that rooms, users and
// message logs live in. Records are JSON documents addressed by slash
// separated paths such as rooms/{id}, users/{id} and messages/{roomID}/{key}.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Read when no record exists at the path.
var ErrNotFound = errors.New("record not found")

// ErrClosed is returned when operating on a closed backend.
var ErrClosed = errors.New("backend closed")

// Logical collections used by the directories and the message store.
const (
	RoomsPath    = "rooms"
	UsersPath    = "users"
	MessagesPath = "messages"
)

// Backend is the minimum set of primitives the session layer needs from the
// realtime store. Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores value at path, replacing any previous record.
	Write(ctx context.Context, path string, value []byte) error

	// Read returns the record at path or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Push appends value under collection with a freshly generated unique
	// child key and returns that key. The record is written in one step.
	Push(ctx context.Context, collection string, value []byte) (string, error)

	// Children returns the direct children of collection keyed by child key.
	Children(ctx context.Context, collection string) (map[string][]byte, error)

	// Delete removes path and everything beneath it. Deleting a missing
	// path is not an error.
	Delete(ctx context.Context, path string) error

	// FindWhere returns the children of collection whose top level field
	// equals value.
	FindWhere(ctx context.Context, collection, field, value string) (map[string][]byte, error)

	// Subscribe delivers the full children of collection once immediately
	// and again after every change beneath it. Calls for one subscription
	// never overlap.
	Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (Subscription, error)

	// Close releases connections and stops all subscriptions.
	Close() error
}

// SnapshotFunc receives the current children of a subscribed collection.
type SnapshotFunc func(children map[string][]byte)

// Subscription is an active collection subscription.
type Subscription interface {
	Unsubscribe() error
	Path() string
}

// Error wraps a failed backend call with the operation and path involved.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err wrapped in *Error unless it is nil or already wrapped.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Op: op, Path: path, Err: err}
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the parent collection and the last segment of path.
func Split(path string) (parent, key string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// IsChildOf reports whether path is a direct child of collection.
func IsChildOf(path, collection string) bool {
	parent, _ := Split(path)
	return parent == collection
}

// IsWithin reports whether path equals prefix or lies beneath it.
func IsWithin(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// FieldEquals decodes a JSON document and compares one top level field
// against value. Non-string fields are compared by their JSON text.
func FieldEquals(doc []byte, field, value string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false
	}
	raw, ok := fields[field]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == value
	}
	return string(raw) == value
}
