package models

import "time"

// ChatMessage is one entry of the local, per-room message sequence.
// Entries are append-only; only Read may change after insertion.
type ChatMessage struct {
	// ID is a local identifier (UUID), unique within the session.
	ID string `json:"id"`
	// Seq is the position in the room's sequence, starting at 1.
	Seq uint64 `json:"seq"`
	// RoomID is the room the message belongs to.
	RoomID string `json:"roomId"`
	// Text is the message payload.
	Text string `json:"text"`
	// SenderID is the anonymous ID of the author.
	SenderID string `json:"sender"`
	// SentAt is the local send time for outgoing messages and the receive
	// time for incoming ones.
	SentAt time.Time `json:"timestamp"`
	// Outgoing is true for messages written on this client.
	Outgoing bool `json:"outgoing"`
	Read     bool `json:"read"`
}
