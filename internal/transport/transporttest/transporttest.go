// Package transporttest provides an in-memory transport for tests of the
// connection manager and the session.
package transporttest

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/transport"
)

// ErrRefused is the dial error produced by a Dialer told to fail.
var ErrRefused = errors.New("connection refused")

// ErrDropped is the receive error produced by Conn.Drop.
var ErrDropped = errors.New("connection reset by peer")

// Conn is the client end of an in-memory connection. The test drives the
// server end through Push, ServerClose and Drop, and inspects Sent.
type Conn struct {
	inbound chan protocol.Envelope
	sent    chan protocol.Envelope

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

// NewConn returns an open connection.
func NewConn() *Conn {
	return &Conn{
		inbound: make(chan protocol.Envelope, 64),
		sent:    make(chan protocol.Envelope, 64),
		done:    make(chan struct{}),
	}
}

func (c *Conn) Send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	select {
	case c.sent <- env:
		return nil
	default:
		return transport.ErrBufferFull
	}
}

func (c *Conn) Receive() (protocol.Envelope, error) {
	// Pending frames are delivered before the close is observed.
	select {
	case env := <-c.inbound:
		return env, nil
	default:
	}
	select {
	case env := <-c.inbound:
		return env, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return protocol.Envelope{}, c.err
	}
}

func (c *Conn) Close() error {
	c.end(transport.ErrClosed)
	return nil
}

// Push delivers env to the client as if the server sent it.
func (c *Conn) Push(env protocol.Envelope) {
	c.inbound <- env
}

// PushEvent is Push with payload encoding.
func (c *Conn) PushEvent(event protocol.Event, payload any) {
	c.Push(protocol.MustEnvelope(event, payload))
}

// ServerClose ends the connection as a server-initiated close.
func (c *Conn) ServerClose() { c.end(transport.ErrServerClosed) }

// Drop ends the connection as a network failure.
func (c *Conn) Drop() { c.end(ErrDropped) }

// Closed reports whether the connection has ended.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns the envelopes written by the client, in order.
func (c *Conn) Sent() <-chan protocol.Envelope { return c.sent }

// Drain returns every envelope sent so far without blocking.
func (c *Conn) Drain() []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case env := <-c.sent:
			out = append(out, env)
		default:
			return out
		}
	}
}

// Next waits up to timeout for the next sent envelope.
func (c *Conn) Next(timeout time.Duration) (protocol.Envelope, bool) {
	select {
	case env := <-c.sent:
		return env, true
	case <-time.After(timeout):
		return protocol.Envelope{}, false
	}
}

func (c *Conn) end(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
}

// Dialer hands out Conns. Fail makes the next n dials fail.
type Dialer struct {
	mu    sync.Mutex
	fail  int
	block bool
	dials int
	conns []*Conn
	ready chan *Conn
}

// NewDialer returns a Dialer whose dials succeed.
func NewDialer() *Dialer {
	return &Dialer{ready: make(chan *Conn, 16)}
}

// Fail makes the next n dials return ErrRefused.
func (d *Dialer) Fail(n int) {
	d.mu.Lock()
	d.fail = n
	d.mu.Unlock()
}

// FailAlways makes every dial fail until Fail(0).
func (d *Dialer) FailAlways() { d.Fail(-1) }

// Block makes dials wait for their context to end.
func (d *Dialer) Block(on bool) {
	d.mu.Lock()
	d.block = on
	d.mu.Unlock()
}

func (d *Dialer) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials++
	block := d.block
	fail := d.fail != 0
	if d.fail > 0 {
		d.fail--
	}
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, ErrRefused
	}

	c := NewConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	select {
	case d.ready <- c:
	default:
	}
	return c, nil
}

// Dials returns the number of dial attempts so far.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Last returns the most recent successful connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Accepted returns successful connections in dial order.
func (d *Dialer) Accepted() <-chan *Conn { return d.ready }
