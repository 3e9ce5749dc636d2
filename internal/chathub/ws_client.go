package chathub

import (
	"context"
	"log"
	"time"

	"relaychat/backend/internal/config"
	"relaychat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	UserID string
	ConnID string
	Conn   *websocket.Conn
	Hub    *ManagerService
	Send   chan models.ServerEvent
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, userID string) *WebSocketClient {
	return &WebSocketClient{
		UserID: userID,
		ConnID: uuid.NewString(),
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan models.ServerEvent, config.ClientSendBufferSize),
	}
}

func (c *WebSocketClient) GetUserID() string                          { return c.UserID }
func (c *WebSocketClient) GetConnID() string                          { return c.ConnID }
func (c *WebSocketClient) GetSendChannel() chan<- models.ServerEvent { return c.Send }

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes Send, which stops writePump and closes the socket.
func (c *WebSocketClient) Close() {
	close(c.Send)
}

// readPump hands every inbound frame to the hub. Frames of one connection are
// handled in order; other connections are unaffected by a slow handler.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Disconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARNING: [chathub] Read error on connection %s (user %s): %v", c.ConnID, c.UserID, err)
			}
			break
		}
		c.Hub.HandleFrame(context.Background(), c, message)
	}
}

// writePump writes events from Send to the socket, one frame per event, and
// keeps the connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(event); err != nil {
				log.Printf("WARNING: [chathub] Write error on connection %s (user %s): %v", c.ConnID, c.UserID, err)
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
