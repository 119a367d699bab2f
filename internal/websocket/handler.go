package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/tuckborough/burrow/internal/auth"
	"github.com/tuckborough/burrow/internal/bus"
)

// HandleWebSocket returns an HTTP handler that upgrades connections to
// WebSocket and streams the caller's notification events until the client
// goes away.
func HandleWebSocket(hub *Hub, b *bus.Bus, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == 0 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // App shells connect from their own origin
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn, b.Subscribe(userID), userID)
		client.Run(r.Context())
	}
}
