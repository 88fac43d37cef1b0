package devserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/Bamboo-rat/adminchat/internal/model"
)

// client is one connected websocket.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan model.Frame
	log    *zap.Logger
}

func newClient(conn *websocket.Conn, userID string, log *zap.Logger) *client {
	return &client{
		userID: userID,
		conn:   conn,
		send:   make(chan model.Frame, 64),
		log:    log,
	}
}

// writePump drains the send queue onto the socket and pings on a
// ticker to keep intermediaries from dropping the idle connection.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "unregistered")
				return
			}

			data, err := json.Marshal(f)
			if err != nil {
				c.log.Error("failed to encode frame", zap.Error(err))
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.log.Warn("client write failed", zap.String("user", c.userID), zap.Error(err))
				continue
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
	}
}

// readPump feeds client frames into the hub until the socket dies.
func (c *client) readPump(ctx context.Context, hub *Hub) {
	defer func() {
		hub.Unregister <- c
		c.conn.CloseNow()
	}()

	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				status != -1 {
				c.log.Warn("client read failed", zap.String("user", c.userID), zap.Error(err))
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var f model.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("dropping malformed client frame", zap.String("user", c.userID), zap.Error(err))
			continue
		}

		hub.Requests <- request{from: c.userID, frame: f}
	}
}
