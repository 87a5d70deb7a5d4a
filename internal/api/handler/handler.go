// Package handler exposes the relay over HTTP.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatgogo/matchclient/internal/relay"
	"chatgogo/matchclient/internal/transport/ws"
)

// Handler містить посилання на relay hub
type Handler struct {
	Hub *relay.Hub
	// Options tunes the server side of every websocket.
	Options ws.Options
}

func NewHandler(hub *relay.Hub) *Handler {
	return &Handler{Hub: hub}
}

// Router returns a gin engine with the relay routes.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	h.Register(r)
	return r
}

// Register mounts the relay routes on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/ws", h.ServeWebSocket)
	r.GET("/health", h.Health)
}

// Health reports hub counters.
func (h *Handler) Health(c *gin.Context) {
	select {
	case <-h.Hub.Done():
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "hub": h.Hub.Stats()})
	}
}
