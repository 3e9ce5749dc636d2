package chathub

import "relaychat/backend/internal/models"

// Client is one live connection. It abstracts the transport so the hub can
// manage WebSocket and test clients uniformly.
type Client interface {
	// GetUserID returns the authenticated user behind the connection.
	GetUserID() string
	// GetConnID returns the id of this connection. A user may have several.
	GetConnID() string

	// GetSendChannel returns the buffered channel the hub writes outbound
	// events to. The hub never blocks on it.
	GetSendChannel() chan<- models.ServerEvent

	// Run starts the read and write pumps.
	Run()
	// Close closes the send channel. Only the hub calls it, exactly once.
	Close()
}
