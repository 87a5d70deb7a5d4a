package relay

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/transport"
)

// Client is one connection as seen by the hub.
type Client interface {
	// ID identifies the connection, not the user behind it.
	ID() string
	// Send must not block.
	Send(protocol.Envelope) error
	Close() error
}

// WSClient connects a transport connection to the hub.
type WSClient struct {
	id   string
	conn transport.Conn
	hub  *Hub
	log  zerolog.Logger
}

func NewWSClient(hub *Hub, conn transport.Conn) *WSClient {
	id := uuid.NewString()
	return &WSClient{
		id:   id,
		conn: conn,
		hub:  hub,
		log:  logging.Component("relay-client").With().Str("conn", id).Logger(),
	}
}

func (c *WSClient) ID() string                       { return c.id }
func (c *WSClient) Send(env protocol.Envelope) error { return c.conn.Send(env) }
func (c *WSClient) Close() error                     { return c.conn.Close() }

// Run registers the client and pumps inbound envelopes into the hub until
// the connection ends or ctx is done.
func (c *WSClient) Run(ctx context.Context) {
	if !c.hub.Register(ctx, c) {
		_ = c.conn.Close()
		return
	}
	defer c.hub.Unregister(ctx, c)

	for {
		env, err := c.conn.Receive()
		if err != nil {
			if !errors.Is(err, transport.ErrServerClosed) && !errors.Is(err, transport.ErrClosed) {
				c.log.Debug().Err(err).Msg("read ended")
			}
			return
		}
		if !c.hub.Deliver(ctx, c, env) {
			return
		}
	}
}
