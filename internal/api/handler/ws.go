package handler

import (
	"log"
	"net/http"

	"relaychat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the web client's deployment hosts are fixed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket authenticates the handshake and only then upgrades the
// connection and registers it with the hub. A failed handshake never
// reaches the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	id, err := h.Hub.Authenticate(c.Request.Context(), bearerToken(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WARNING: [api] Upgrade failed for user %s: %v", id.UserID, err)
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, id.UserID)
	h.Hub.Register(c.Request.Context(), client, map[string]string{
		"userAgent": c.Request.UserAgent(),
		"remoteIp":  c.ClientIP(),
	})
	client.Run()
}
