package ws_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgogo/matchclient/internal/protocol"
	"chatgogo/matchclient/internal/transport"
	"chatgogo/matchclient/internal/transport/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newServer starts a websocket server and hands every accepted connection
// to the returned channel.
func newServer(t *testing.T) (string, <-chan *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		accepted <- c
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), accepted
}

func dial(t *testing.T, url string) transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := (&ws.Dialer{}).Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConn_SendAndReceive(t *testing.T) {
	// Arrange
	url, accepted := newServer(t)
	client := dial(t, url)
	server := ws.NewConn(<-accepted, ws.Options{})
	defer server.Close()

	// Act
	out := protocol.MustEnvelope(protocol.EventMessage, protocol.OutgoingMessage{RoomID: "abc", Message: "hi", Sender: "42"})
	require.NoError(t, client.Send(out))
	got, err := server.Receive()
	require.NoError(t, err)

	reply := protocol.MustEnvelope(protocol.EventMatchFound, protocol.MatchFound{RoomID: "abc"})
	require.NoError(t, server.Send(reply))
	back, err := client.Receive()
	require.NoError(t, err)

	// Assert
	assert.Equal(t, protocol.EventMessage, got.Event)
	assert.JSONEq(t, string(out.Data), string(got.Data))
	assert.Equal(t, protocol.EventMatchFound, back.Event)
}

func TestConn_SkipsUndecodableFrames(t *testing.T) {
	url, accepted := newServer(t)
	client := dial(t, url)
	raw := <-accepted
	defer raw.Close()

	require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte(`{"event":"chat_ended"}`)))

	env, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.EventChatEnded, env.Event)
}

func TestConn_ServerCloseFrame(t *testing.T) {
	url, accepted := newServer(t)
	client := dial(t, url)
	server := ws.NewConn(<-accepted, ws.Options{})

	require.NoError(t, server.Close())

	_, err := client.Receive()
	assert.ErrorIs(t, err, transport.ErrServerClosed)
}

func TestConn_AbruptDropIsNotServerClose(t *testing.T) {
	url, accepted := newServer(t)
	client := dial(t, url)
	raw := <-accepted

	// Close the TCP connection without a close frame.
	require.NoError(t, raw.UnderlyingConn().Close())

	_, err := client.Receive()
	require.Error(t, err)
	assert.False(t, errors.Is(err, transport.ErrServerClosed))
}

func TestConn_LocalCloseIsIdempotent(t *testing.T) {
	url, accepted := newServer(t)
	client := dial(t, url)
	raw := <-accepted
	defer raw.Close()

	assert.NoError(t, client.Close())
	assert.NotPanics(t, func() { client.Close() })

	_, err := client.Receive()
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, client.Send(protocol.Envelope{Event: protocol.EventEndChat}), transport.ErrClosed)
}

func TestDialer_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := (&ws.Dialer{}).Dial(ctx, "ws://127.0.0.1:1/ws")
	assert.Error(t, err)
}
