package ws

import (
	"net/http"
	"slices"

	"nhooyr.io/websocket"
)

// UpgradeHandler returns an HTTP handler that upgrades connections to
// WebSocket. When protocols is non-empty the peer must negotiate one of them.
func UpgradeHandler(hub *Hub, maxMessageSize int, protocols []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: protocols,
		})
		if err != nil {
			hub.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		if len(protocols) > 0 && !slices.Contains(protocols, conn.Subprotocol()) {
			conn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
			return
		}

		id := connID()
		c := NewConn(id, conn, hub, maxMessageSize)

		hub.logger.Info("new websocket connection", "conn_id", id, "remote_addr", r.RemoteAddr, "subprotocol", conn.Subprotocol())

		// Run the connection (blocking).
		c.Run(r.Context())
	}
}
