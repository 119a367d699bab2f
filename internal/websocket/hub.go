// Package websocket streams notification wake-up events to connected
// browsers. Each connection is bound to its authenticated user's bus
// subscription, so a client only ever sees its own events. Payloads are
// signals, not state; clients re-fetch over the HTTP API.
package websocket

import (
	"log/slog"
	"sync"

	"github.com/tuckborough/burrow/internal/metrics"
)

// Hub tracks the set of live client connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Inc()
	h.logger.Debug("websocket client connected", "user_id", c.userID, "clients", n)
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	metrics.WebsocketClients.Dec()
	h.logger.Debug("websocket client disconnected", "user_id", c.userID, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
