package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatRoom is the relay's record of a 1-on-1 pairing.
type ChatRoom struct {
	// RoomID is the identifier handed to both clients in match_found (UUID).
	RoomID string `gorm:"primaryKey"`
	// User1ID and User2ID are the anonymous IDs announced in find_match.
	User1ID string `gorm:"index"`
	User2ID string `gorm:"index"`
	// IsActive is true until end_chat or a participant disconnects.
	IsActive  bool `gorm:"index"`
	StartedAt time.Time
	EndedAt   *time.Time
	// EndReason is one of "end_chat", "user_disconnected" or "recovered".
	EndReason string
}

// BeforeCreate assigns a RoomID when the caller did not pick one.
func (r *ChatRoom) BeforeCreate(tx *gorm.DB) error {
	if r.RoomID == "" {
		r.RoomID = uuid.NewString()
	}
	return nil
}

// Peer returns the other participant of the room, or "" if userID is not in it.
func (r *ChatRoom) Peer(userID string) string {
	switch userID {
	case r.User1ID:
		return r.User2ID
	case r.User2ID:
		return r.User1ID
	}
	return ""
}
