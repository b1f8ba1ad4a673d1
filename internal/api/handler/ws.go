package handler

import (
	"net/http"

	"tutorhub/backend/internal/auth"
	"tutorhub/backend/internal/chathub"
	"tutorhub/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients are served from the marketplace frontends.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the request and registers the connection with
// the hub. A token passed as ?token= or as a bearer header announces the
// session right away; otherwise the client sends an announce frame.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = auth.BearerToken(c.GetHeader("Authorization"))
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn)
	client.AnnounceToken = token
	client.ConnectionID = h.Hub.OnConnect(client)
	h.Hub.Reply(client.ConnectionID, models.Envelope{
		Type:         models.EventConnected,
		ConnectionID: client.ConnectionID,
	})
	client.Run()
}
