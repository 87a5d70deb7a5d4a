// Package session holds the state machine of one client: the session phase
// and room assignment, driven by intents and inbound events. Connectivity is
// tracked beside the phase and never changes it.
package session

import (
	"sync"

	"github.com/rs/zerolog"

	"chatgogo/matchclient/internal/connection"
	"chatgogo/matchclient/internal/errs"
	"chatgogo/matchclient/internal/logging"
)

// Phase is the discrete state of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSearching
	PhaseMatched
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSearching:
		return "searching"
	case PhaseMatched:
		return "matched"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EndReason records what ended a room.
type EndReason string

const (
	EndedByClient     EndReason = "end_chat"
	EndedByServer     EndReason = "chat_ended"
	EndedByPeer       EndReason = "user_disconnected"
	EndedByLogout     EndReason = "logout"
	EndedByConnection EndReason = "connection_lost"
	EndedByProtocol   EndReason = "protocol_error"
)

// Snapshot is a read-only copy of the machine state.
type Snapshot struct {
	Phase        Phase
	RoomID       string
	Connectivity connection.State
	// MatchStatus is the last advisory match_status value.
	MatchStatus string
	// EndReason is set while the phase is Ended.
	EndReason EndReason
	LastError error
}

// Machine is safe for concurrent reads. Writes are expected from a single
// goroutine at a time (the session's event loop or an intent holding the
// session lock); the internal mutex only protects snapshots.
type Machine struct {
	mu  sync.RWMutex
	s   Snapshot
	log zerolog.Logger
}

// New returns a machine in Idle and Disconnected.
func New() *Machine {
	return &Machine{log: logging.Component("session")}
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s
}

// SetConnectivity records the connection state. The phase is untouched.
func (m *Machine) SetConnectivity(state connection.State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.Connectivity == state {
		return false
	}
	m.s.Connectivity = state
	return true
}

// BeginSearch moves Idle or Ended to Searching. Issuing it while already
// Searching is a no-op. It fails without changing anything when the
// connection is not up, no profile is present or a room is active.
func (m *Machine) BeginSearch(profilePresent bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	const op = "find_match"
	switch {
	case m.s.Connectivity != connection.StateConnected:
		return false, errs.Precondition(op, "connection is %s", m.s.Connectivity)
	case !profilePresent:
		return false, errs.Precondition(op, "no user profile")
	case m.s.Phase == PhaseSearching:
		return false, nil
	case m.s.Phase == PhaseMatched:
		return false, errs.Precondition(op, "already matched in room %s", m.s.RoomID)
	}

	m.transition(PhaseSearching)
	m.s.RoomID = ""
	m.s.EndReason = ""
	m.s.MatchStatus = ""
	m.s.LastError = nil
	return true, nil
}

// MatchFound assigns roomID when Searching. A repeat of the current room is
// ignored. Any other room while Matched, a room in Idle or Ended, or an
// empty room id is a protocol error and resets the session as Reset does.
// The room id is never overwritten.
func (m *Machine) MatchFound(roomID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	const op = "match_found"
	var err error
	switch {
	case roomID == "":
		err = errs.Protocol(op, "empty room id")
	case m.s.Phase == PhaseSearching:
		m.transition(PhaseMatched)
		m.s.RoomID = roomID
		return true, nil
	case m.s.Phase == PhaseMatched && m.s.RoomID == roomID:
		return false, nil
	case m.s.Phase == PhaseMatched:
		err = errs.Protocol(op, "room %s assigned while matched in room %s", roomID, m.s.RoomID)
	default:
		err = errs.Protocol(op, "room %s assigned in phase %s", roomID, m.s.Phase)
	}
	_, changed := m.resetLocked(err)
	return changed, err
}

// MatchFailed returns Searching to Idle. The server's reason is recorded as
// an application error in every phase.
func (m *Machine) MatchFailed(reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.failLocked(errs.Application("match_error", reason))
	if m.s.Phase != PhaseSearching {
		return false, err
	}
	m.transition(PhaseIdle)
	return true, err
}

// SetMatchStatus records an advisory status. It never changes the phase.
func (m *Machine) SetMatchStatus(status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.MatchStatus == status {
		return false
	}
	m.s.MatchStatus = status
	return true
}

// End moves Matched to Ended and clears the room. It returns the room that
// was ended. In any other phase it does nothing, so repeated terminal
// events settle on the first.
func (m *Machine) End(reason EndReason) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.s.Phase != PhaseMatched {
		return "", false
	}
	room := m.s.RoomID
	m.transition(PhaseEnded)
	m.s.RoomID = ""
	m.s.EndReason = reason
	return room, true
}

// Acknowledge returns Ended to Idle.
func (m *Machine) Acknowledge() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.s.Phase != PhaseEnded {
		return false
	}
	m.transition(PhaseIdle)
	m.s.EndReason = ""
	return true
}

// Abort abandons whatever is in progress: an active room ends with reason,
// a search returns to Idle. It returns the ended room, if any.
func (m *Machine) Abort(reason EndReason) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortLocked(reason)
}

// Reset records a protocol error and stops trusting the current state: an
// active room ends with EndedByProtocol, a search returns to Idle. It
// returns the ended room, if any.
func (m *Machine) Reset(err error) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetLocked(err)
}

func (m *Machine) resetLocked(err error) (string, bool) {
	m.failLocked(err)
	return m.abortLocked(EndedByProtocol)
}

func (m *Machine) abortLocked(reason EndReason) (string, bool) {
	switch m.s.Phase {
	case PhaseMatched:
		room := m.s.RoomID
		m.transition(PhaseEnded)
		m.s.RoomID = ""
		m.s.EndReason = reason
		return room, true
	case PhaseSearching:
		m.transition(PhaseIdle)
		m.s.MatchStatus = ""
		return "", true
	default:
		return "", false
	}
}

// Fail records err as the last error without changing the phase.
func (m *Machine) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLocked(err)
}

// Require checks that the session is Matched and Connected and returns the
// active room. op names the intent in the error.
func (m *Machine) Require(op string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.s.Phase != PhaseMatched {
		return "", errs.Precondition(op, "no active room (phase %s)", m.s.Phase)
	}
	if m.s.Connectivity != connection.StateConnected {
		return "", errs.Precondition(op, "connection is %s", m.s.Connectivity)
	}
	return m.s.RoomID, nil
}

func (m *Machine) failLocked(err error) error {
	m.s.LastError = err
	return err
}

func (m *Machine) transition(to Phase) {
	m.log.Debug().Stringer("from", m.s.Phase).Stringer("to", to).Msg("phase")
	m.s.Phase = to
}
