package user

import (
	"time"
)

// User is one console session's identity. The record lives at users/{id}.
type User struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName"`
	CurrentRoomID string    `json:"currentRoomId"`
	JoinedAt      time.Time `json:"joinedAt"`
}

