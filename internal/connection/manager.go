// Package connection owns the single connection to the session server. It
// runs connect cycles with a bounded retry budget, reads inbound frames in
// order and dispatches them, together with its own lifecycle events, to the
// handlers registered in its subscription table.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"chatgogo/matchclient/internal/config"
	"chatgogo/matchclient/internal/errs"
	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/transport"
)

// Manager is safe for concurrent use.
//
// A connect cycle runs in its own goroutine: it dials with retries, then
// reads until the connection ends. A cycle that ends because the server
// closed the connection starts exactly one fresh cycle. A cycle that ends
// on a network failure or an exhausted budget stays disconnected.
type Manager struct {
	cfg    config.Transport
	dialer transport.Dialer
	log    zerolog.Logger

	// lifecycle serialises Connect, Disconnect, Reconnect and the automatic
	// reconnect after a server close.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	state   State
	conn    transport.Conn
	lastErr error
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}

	subMu     sync.RWMutex
	subs      map[protocol.Event][]subscription
	nextSubID uint64
}

// NewManager returns a disconnected manager. Nothing is dialed until Connect.
func NewManager(cfg config.Transport, dialer transport.Dialer) *Manager {
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		log:    logging.Component("connection").With().Str("url", cfg.ServerURL).Logger(),
		subs:   make(map[protocol.Event][]subscription),
	}
}

// State returns the current connectivity.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastError returns the transport error that ended the last cycle, or nil.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Connect starts a connect cycle. It returns immediately; progress is
// reported through the connecting, connect_error, connect, error and
// disconnect events. Connect while connecting or connected does nothing.
func (m *Manager) Connect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.startLocked()
}

// Disconnect closes the connection and cancels any cycle in progress. It
// is idempotent; a disconnect event with ReasonClient is dispatched only
// when there was something to disconnect.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stopLocked()
}

// Reconnect tears down the current connection or cycle and starts a new one.
func (m *Manager) Reconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stopLocked()
	m.startLocked()
}

// Send transmits env on the open connection. It fails with a transport
// error when not connected or when the connection refuses the frame.
func (m *Manager) Send(env protocol.Envelope) error {
	m.mu.RLock()
	conn, state := m.conn, m.state
	m.mu.RUnlock()

	op := string(env.Event)
	if state != StateConnected || conn == nil {
		return errs.Transportf(op, "not connected (%s)", state)
	}
	if err := conn.Send(env); err != nil {
		return errs.Transport(op, err)
	}
	m.log.Trace().Str("event", op).Msg("sent")
	return nil
}

func (m *Manager) startLocked() {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		m.log.Debug().Stringer("state", m.State()).Msg("connect ignored")
		return
	}
	prev := m.done
	m.mu.Unlock()

	// A finished cycle may still be returning from its last dispatch.
	if prev != nil {
		<-prev
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.lastErr = nil
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(ctx, gen, done)
}

func (m *Manager) stopLocked() {
	m.mu.Lock()
	m.gen++
	prev := m.state
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn, done := m.conn, m.done
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.log.Debug().Err(err).Msg("close")
		}
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	m.conn = nil
	m.done = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if prev == StateConnecting || prev == StateConnected {
		m.log.Info().Msg("disconnected by client")
		m.dispatch(context.Background(), Event{
			Name:   protocol.EventDisconnect,
			State:  StateDisconnected,
			Reason: ReasonClient,
		})
	}
}

// run is one connect cycle.
func (m *Manager) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	log := m.log.With().Uint64("cycle", gen).Logger()

	m.dispatch(ctx, Event{Name: protocol.EventConnecting, State: StateConnecting})

	conn, err := m.dial(ctx, log)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		terr := errs.Transport("connect", err)
		m.mu.Lock()
		m.state = StateDisconnected
		m.lastErr = terr
		m.mu.Unlock()

		log.Error().Err(err).Msg("connect budget exhausted")
		m.dispatch(ctx, Event{Name: protocol.EventError, State: StateDisconnected, Err: terr})
		m.dispatch(ctx, Event{
			Name:   protocol.EventDisconnect,
			State:  StateDisconnected,
			Reason: ReasonConnectFailed,
			Err:    terr,
		})
		return
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	log.Info().Msg("connected")
	m.dispatch(ctx, Event{Name: protocol.EventConnect, State: StateConnected})

	reason, rerr := m.read(ctx, conn, log)
	conn.Close()

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDisconnected
	if rerr != nil {
		m.lastErr = errs.Transport("receive", rerr)
	}
	m.mu.Unlock()

	log.Warn().Err(rerr).Str("reason", string(reason)).Msg("connection lost")
	m.dispatch(ctx, Event{
		Name:   protocol.EventDisconnect,
		State:  StateDisconnected,
		Reason: reason,
		Err:    rerr,
	})

	if reason == ReasonServer {
		go m.reconnectAfterServerClose(gen)
	}
}

// dial runs the retry loop of one cycle.
func (m *Manager) dial(ctx context.Context, log zerolog.Logger) (transport.Conn, error) {
	attempt := 0
	op := func() (transport.Conn, error) {
		attempt++
		dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()

		conn, err := m.dialer.Dial(dctx, m.cfg.ServerURL)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("of", m.cfg.ReconnectAttempts).Msg("connect attempt failed")
		m.dispatch(ctx, Event{
			Name:    protocol.EventConnectError,
			State:   StateConnecting,
			Attempt: attempt,
			Err:     errs.Transport("connect", err),
		})
		return nil, err
	}

	conn, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(m.newBackOff()),
		backoff.WithMaxTries(uint(m.cfg.ReconnectAttempts)),
		backoff.WithMaxElapsedTime(m.cfg.ConnectDeadline),
	)
	if err != nil {
		return nil, fmt.Errorf("%d attempt(s) failed: %w", attempt, err)
	}
	return conn, nil
}

func (m *Manager) newBackOff() backoff.BackOff {
	if m.cfg.ReconnectMaxDelay <= m.cfg.ReconnectDelay {
		return backoff.NewConstantBackOff(m.cfg.ReconnectDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.ReconnectDelay
	b.MaxInterval = m.cfg.ReconnectMaxDelay
	b.Multiplier = 2
	return b
}

// read dispatches inbound frames until the connection ends and classifies
// the ending.
func (m *Manager) read(ctx context.Context, conn transport.Conn, log zerolog.Logger) (CloseReason, error) {
	for {
		env, err := conn.Receive()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ReasonClient, nil
			case errors.Is(err, transport.ErrServerClosed):
				return ReasonServer, err
			default:
				return ReasonTransport, err
			}
		}
		if isLifecycle(env.Event) {
			log.Warn().Str("event", string(env.Event)).Msg("server sent a reserved event name, dropped")
			continue
		}
		log.Trace().Str("event", string(env.Event)).Msg("received")
		m.dispatch(ctx, Event{Name: env.Event, Envelope: env, State: StateConnected})
	}
}

func (m *Manager) reconnectAfterServerClose(gen uint64) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	stale := m.gen != gen || m.state != StateDisconnected
	m.mu.RUnlock()
	if stale {
		return
	}
	m.log.Info().Msg("server closed the connection, reconnecting")
	m.startLocked()
}
