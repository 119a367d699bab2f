package websocket

import (
	"context"
	"encoding/json"
	"time"

	ws "github.com/coder/websocket"

	"github.com/tuckborough/burrow/internal/bus"
)

const pingInterval = 30 * time.Second

// Client represents a single WebSocket connection feeding one user's
// bus subscription to the browser.
type Client struct {
	hub    *Hub
	conn   *ws.Conn
	sub    *bus.Subscription
	userID int64
}

// NewClient creates a Client tied to the given hub, connection, and
// subscription. The client owns the subscription and closes it when done.
func NewClient(hub *Hub, conn *ws.Conn, sub *bus.Subscription, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		sub:    sub,
		userID: userID,
	}
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters and releases
// the subscription.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)
	defer c.sub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump reads and discards all incoming messages. It returns on error
// (connection close), which triggers cleanup.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
	}
}

// writePump drains the subscription and writes events to the WebSocket.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.sub.C:
			if !ok {
				// Subscription closed, connection is done.
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.hub.logger.Error("marshal event", "error", err)
				continue
			}
			if err := c.conn.Write(ctx, ws.MessageText, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
