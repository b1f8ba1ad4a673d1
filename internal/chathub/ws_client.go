package chathub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"tutorhub/backend/internal/apperrors"
	"tutorhub/backend/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 15 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024

	// SendQueueSize is the outbound queue of a WebSocket session.
	SendQueueSize = 256
)

// WebSocketClient implements Client on top of a gorilla/websocket
// connection.
type WebSocketClient struct {
	ConnectionID string
	Conn         *websocket.Conn
	Hub          *ManagerService
	Send         chan models.Envelope

	// AnnounceToken, when set, is announced before any client frame is read.
	AnnounceToken string

	closeOnce sync.Once
	logger    *slog.Logger
}

// NewWebSocketClient wraps conn. Call Hub.OnConnect and set ConnectionID
// before Run.
func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn) *WebSocketClient {
	return &WebSocketClient{
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan models.Envelope, SendQueueSize),
		logger: hub.logger,
	}
}

func (c *WebSocketClient) GetSendChannel() chan<- models.Envelope { return c.Send }

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes the Send channel, which stops writePump.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// readPump handles the frames of this connection one at a time, which
// keeps a session's requests in the order it sent them.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.OnDisconnect(c.ConnectionID)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Hub.Touch(c.ConnectionID)
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if c.AnnounceToken != "" {
		c.Hub.HandleFrame(context.Background(), c.ConnectionID, models.Frame{
			Type:  models.FrameAnnounce,
			Token: c.AnnounceToken,
		})
	}

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", "connection_id", c.ConnectionID, "error", err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.Hub.Touch(c.ConnectionID)
			c.Hub.replyError(c.ConnectionID, "", apperrors.Validation("malformed frame"))
			continue
		}
		c.Hub.HandleFrame(context.Background(), c.ConnectionID, frame)
	}
}

// writePump writes queued envelopes to the socket and keeps it alive
// with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteJSON(env); err != nil {
				c.logger.Debug("websocket write failed", "connection_id", c.ConnectionID, "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
