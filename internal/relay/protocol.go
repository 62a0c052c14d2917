// Package relay exposes a backend.Backend over a websocket so several
// console clients can share one store. The server answers request frames
// and pushes snapshot frames for subscriptions; Client is the matching
// backend.Backend implementation.
package relay

import (
	"errors"
	"fmt"

	"conchat/internal/backend"
)

// Frame operations
const (
	OpWrite       = "write"
	OpRead        = "read"
	OpPush        = "push"
	OpChildren    = "children"
	OpDelete      = "delete"
	OpFind        = "find"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpSnapshot    = "snapshot"
)

// Error codes carried by response frames
const (
	CodeNotFound = "not_found"
	CodeClosed   = "closed"
	CodeBadFrame = "bad_frame"
	CodeFailed   = "failed"
)

// Frame is the single message shape on the relay socket. Requests carry an
// ID that the response echoes; snapshot frames carry the client chosen
// subscription ID instead.
type Frame struct {
	ID    uint64 `json:"id,omitempty"`
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
	Data  []byte `json:"data,omitempty"`
	Sub   uint64 `json:"sub,omitempty"`

	Key      string            `json:"key,omitempty"`
	Children map[string][]byte `json:"children,omitempty"`

	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// errorFrame builds the response for a failed request
func errorFrame(req *Frame, err error) *Frame {
	code := CodeFailed
	switch {
	case errors.Is(err, backend.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, backend.ErrClosed):
		code = CodeClosed
	}
	return &Frame{ID: req.ID, Op: req.Op, Code: code, Error: err.Error()}
}

// frameError turns a failed response back into an error the session layer
// can test with errors.Is.
func frameError(resp *Frame) error {
	switch resp.Code {
	case "":
		return nil
	case CodeNotFound:
		return backend.ErrNotFound
	case CodeClosed:
		return backend.Wrap(resp.Op, "", backend.ErrClosed)
	default:
		return fmt.Errorf("relay %s: %s", resp.Op, resp.Error)
	}
}
