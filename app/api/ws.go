package api

import (
	"context"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/feedhive/feedhive/app/hub"
)

// Clients only send small control frames; event payloads flow the other way
const wsReadLimit = 32 * 1024

// wsConn adapts a websocket connection to the hub's Conn interface
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

var _ hub.Conn = (*wsConn)(nil)

// Websocket upgrades the request and registers the connection with the
// notification hub. Inbound frames are drained and ignored; the first
// read error unregisters the connection.
func (h *Handler) Websocket(c *gin.Context) {
	userID := currentUser(c)

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("Websocket accept failed", "user_id", userID, "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	wrapped := &wsConn{conn: conn}
	h.hub.AddConnection(userID, wrapped)
	slog.Debug("Websocket connected", "user_id", userID)

	defer func() {
		h.hub.RemoveConnection(userID, wrapped)
		conn.CloseNow()
		slog.Debug("Websocket disconnected", "user_id", userID)
	}()

	ctx := c.Request.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}
