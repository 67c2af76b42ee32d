package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/dialogue-gateway/internal/catalog"
	"github.com/lexiqai/dialogue-gateway/internal/dialogue"
	"github.com/lexiqai/dialogue-gateway/internal/observability"
	"github.com/rs/zerolog"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Game clients connect from arbitrary origins
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 64 << 10,
}

// Handler serves conversation WebSockets
type Handler struct {
	orchestrator *dialogue.Orchestrator
	catalog      *catalog.Catalog
	logger       zerolog.Logger
}

// NewHandler creates a WebSocket handler backed by orchestrator.
// A nil catalog allows only explicit persona conversations.
func NewHandler(orchestrator *dialogue.Orchestrator, cat *catalog.Catalog) *Handler {
	if cat == nil {
		cat = catalog.Empty()
	}
	return &Handler{
		orchestrator: orchestrator,
		catalog:      cat,
		logger:       observability.WithComponent("gateway"),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	c := newConnection(conn, h)
	h.logger.Info().
		Str("connection_id", c.id).
		Str("remote_addr", r.RemoteAddr).
		Msg("Conversation WebSocket connected")

	c.readLoop()

	h.logger.Info().Str("connection_id", c.id).Msg("Conversation WebSocket closed")
}
