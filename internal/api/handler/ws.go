package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chatgogo/matchclient/internal/relay"
	"chatgogo/matchclient/internal/transport/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Development relay: any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket і передає його hub.
// Clients are anonymous; the user ID arrives later in find_match.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Warn().Err(err).Str("remote", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}

	client := relay.NewWSClient(h.Hub, ws.NewConn(wsConn, h.Options))
	// The request context is canceled when this handler returns.
	go client.Run(context.WithoutCancel(c.Request.Context()))
}
