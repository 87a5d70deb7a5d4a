// Package ws implements transport.Conn over gorilla/websocket. It is used
// by the client dialer and by the relay after an HTTP upgrade.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 256
)

// Options tunes keepalive and buffering. Zero values select the defaults.
type Options struct {
	PongWait   time.Duration
	PingPeriod time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.PongWait <= 0 {
		o.PongWait = pongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = sendBuffer
	}
	return o
}

// Conn is a websocket connection with a write pump goroutine. Receive must
// be called from a single goroutine.
type Conn struct {
	ws   *websocket.Conn
	opts Options
	log  zerolog.Logger

	send      chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn wraps an established websocket and starts its write pump.
func NewConn(wsConn *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		ws:   wsConn,
		opts: opts,
		log:  logging.Component("ws").With().Str("remote", wsConn.RemoteAddr().String()).Logger(),
		send: make(chan protocol.Envelope, opts.SendBuffer),
		done: make(chan struct{}),
	}

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	// Any frame from the peer proves liveness, not just pongs.
	c.ws.SetPingHandler(func(appData string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		err := c.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	go c.writePump()
	return c
}

// Send queues env for the write pump.
func (c *Conn) Send(env protocol.Envelope) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}

	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return transport.ErrClosed
	default:
		return transport.ErrBufferFull
	}
}

// Receive reads the next valid envelope. Undecodable frames are logged and skipped.
func (c *Conn) Receive() (protocol.Envelope, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return protocol.Envelope{}, c.classify(err)
		}
		c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		env, err := protocol.Unmarshal(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		return env, nil
	}
}

// Close sends a normal close frame and releases the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) classify(err error) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		return fmt.Errorf("%w (code %d %s)", transport.ErrServerClosed, ce.Code, ce.Text)
	}
	return fmt.Errorf("read: %w", err)
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		// Unblocks a pending Receive so the owner notices the failure.
		c.ws.Close()
	}()

	for {
		select {
		case env := <-c.send:
			data, err := protocol.Marshal(env)
			if err != nil {
				c.log.Error().Err(err).Str("event", string(env.Event)).Msg("encode frame")
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}

// Dialer dials websocket URLs.
type Dialer struct {
	Header  http.Header
	Options Options
}

// Dial implements transport.Dialer. The context deadline is the handshake timeout.
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:           http.ProxyFromEnvironment,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	wsConn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewConn(wsConn, d.Options), nil
}
