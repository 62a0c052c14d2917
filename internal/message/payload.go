package message

import "encoding/json"

// TextContent is the payload of a text message
type TextContent struct {
	Text string `json:"text"`
}

// StyleChange merges CSS declarations into the element at Path
type StyleChange struct {
	Path  string `json:"path"`
	Style string `json:"style"`
}

// TextChange replaces the text of the element at Path
type TextChange struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// AttributeChange sets one attribute on the element at Path
type AttributeChange struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// InsertElement inserts HTML relative to the element at Path
type InsertElement struct {
	Path     string `json:"path"`
	Position string `json:"position"`
	HTML     string `json:"html"`
}

// RemoveElement removes the element at Path
type RemoveElement struct {
	Path string `json:"path"`
}

// Presence announces entering or leaving a room
type Presence struct {
	RoomName string `json:"roomName"`
}

// TreeSnapshotRequest asks To to share its tree under Component
type TreeSnapshotRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Component string `json:"component"`
}

// TreeSnapshot answers a request with the captured tree
type TreeSnapshot struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Component string          `json:"component"`
	Tree      json.RawMessage `json:"tree"`
}
