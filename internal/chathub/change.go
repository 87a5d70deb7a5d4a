package chathub

import (
	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/session"
)

// ChangeKind says which part of the session changed.
type ChangeKind string

const (
	ChangeConnectivity ChangeKind = "connectivity"
	ChangePhase        ChangeKind = "phase"
	ChangeMatchStatus  ChangeKind = "match_status"
	ChangeMessage      ChangeKind = "message"
	ChangeRead         ChangeKind = "read"
	ChangePeerTyping   ChangeKind = "peer_typing"
	ChangeProfile      ChangeKind = "profile"
	ChangeError        ChangeKind = "error"
)

// Change is one notification delivered to observers. Snapshot is the state
// right after the change was applied.
type Change struct {
	Kind     ChangeKind
	Snapshot session.Snapshot
	// Message is set for ChangeMessage and ChangeRead.
	Message *models.ChatMessage
	// PeerTyping is set for ChangePeerTyping.
	PeerTyping bool
	// Err is set for ChangeError.
	Err error
}

// Observer receives changes on the session's notifier goroutine, in the
// order they were applied. An observer may call any Session method except
// Close.
type Observer func(Change)

// Sender transmits an envelope on the current connection.
type Sender interface {
	Send(env protocol.Envelope) error
}
