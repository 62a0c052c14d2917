package room

import (
	"slices"
	"time"
)

// Room is a debug room record stored at rooms/{id}. The id doubles as the
// key a user must present to enter.
type Room struct {
	ID        string    `json:"-"`
	Name      string    `json:"name"`
	MemberIDs []string  `json:"memberIds"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether userID is in the member list
func (r *Room) HasMember(userID string) bool {
	return slices.Contains(r.MemberIDs, userID)
}

// IsEmpty reports whether the room has no members
func (r *Room) IsEmpty() bool {
	return len(r.MemberIDs) == 0
}
