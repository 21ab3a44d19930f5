package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/checkin/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and streams the user's
// scheduling updates, starting with a "session_connected" message.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		if userID == 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{CompressionMode: ws.CompressionDisabled})
		if err != nil {
			logger.Warn("websocket accept", "user_id", userID, "error", err)
			return
		}
		logger.Debug("websocket connected", "user_id", userID)

		client := NewClient(hub, conn, userID)
		hello, err := json.Marshal(NewMessage("session", "connected", "", map[string]any{"user_id": userID}))
		if err == nil {
			client.send <- hello
		}
		client.Run(r.Context())
		logger.Debug("websocket closed", "user_id", userID)
	}
}
