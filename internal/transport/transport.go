// Package transport abstracts the persistent bidirectional connection that
// carries protocol envelopes.
package transport

import (
	"context"
	"errors"

	"chatgogo/matchclient/internal/protocol"
)

var (
	// ErrServerClosed is returned by Receive when the server closed the
	// connection on purpose (a close frame was received).
	ErrServerClosed = errors.New("connection closed by server")
	// ErrClosed is returned after Close was called locally.
	ErrClosed = errors.New("connection closed")
	// ErrBufferFull is returned by Send when the outbound buffer is full.
	ErrBufferFull = errors.New("send buffer full")
)

// Conn is one established connection.
type Conn interface {
	// Send queues an envelope for writing. It never blocks on the network.
	Send(protocol.Envelope) error
	// Receive blocks until the next envelope arrives or the connection ends.
	Receive() (protocol.Envelope, error)
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens connections. The context bounds the dial only.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) { return f(ctx, url) }
