// Package errs defines the error taxonomy shared by the connection manager,
// the session state machine and the chat clients.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller is expected to react to it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport covers connect, timeout and disconnect failures. They are
	// retried inside the connection manager up to its budget, then surfaced.
	KindTransport
	// KindPrecondition is an intent issued in a phase or connectivity state
	// that does not allow it. Never retried.
	KindPrecondition
	// KindProtocol is an unexpected or contradictory inbound event sequence.
	KindProtocol
	// KindApplication is a failure reported by the server (match_error etc).
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindPrecondition:
		return "PreconditionError"
	case KindProtocol:
		return "ProtocolError"
	case KindApplication:
		return "ApplicationError"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type of this module.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "find_match" or "connect".
	Op string
	// Msg is the human-readable cause.
	Msg string
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Transport wraps a transport-level failure.
func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Transportf builds a transport error from a message.
func Transportf(op, format string, args ...any) *Error {
	return &Error{Kind: KindTransport, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Precondition reports an intent that is not valid in the current state.
func Precondition(op, format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Protocol reports a contradictory inbound event.
func Protocol(op, format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Application reports a failure returned by the server.
func Application(op, msg string) *Error {
	return &Error{Kind: KindApplication, Op: op, Msg: msg}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
