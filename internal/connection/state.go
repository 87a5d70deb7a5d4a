package connection

import (
	"chatgogo/matchclient/internal/protocol"
)

// State is the connectivity of the manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateReconnecting exists for observers that model it. The manager
	// restarts every cycle at StateConnecting and never enters it.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// CloseReason explains a disconnect event.
type CloseReason string

const (
	// ReasonClient: Disconnect or Reconnect was called.
	ReasonClient CloseReason = "client"
	// ReasonServer: the server closed the connection on purpose.
	ReasonServer CloseReason = "server"
	// ReasonTransport: the connection failed (network, timeout, protocol).
	ReasonTransport CloseReason = "transport"
	// ReasonConnectFailed: the connect cycle ran out of attempts.
	ReasonConnectFailed CloseReason = "connect_failed"
)

// Event is delivered to subscribers. Lifecycle events carry State, Reason,
// Attempt and Err; protocol events carry the received Envelope.
type Event struct {
	Name     protocol.Event
	Envelope protocol.Envelope
	State    State
	Reason   CloseReason
	Attempt  int
	Err      error
}

// Handler receives events. Handlers run on the manager's connection
// goroutine, one at a time and in arrival order. They must not call
// Connect, Disconnect, Reconnect, Subscribe or an unsubscribe function
// synchronously.
type Handler func(Event)

// LifecycleEvents lists the events the manager produces itself.
var LifecycleEvents = []protocol.Event{
	protocol.EventConnecting,
	protocol.EventConnect,
	protocol.EventConnectError,
	protocol.EventDisconnect,
	protocol.EventError,
}

func isLifecycle(e protocol.Event) bool {
	for _, l := range LifecycleEvents {
		if e == l {
			return true
		}
	}
	return false
}
