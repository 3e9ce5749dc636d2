package chathub_test

import (
	"relaychat/backend/internal/models"
)

type MockClient struct {
	userID string
	connID string
	send   chan models.ServerEvent
	closed bool
}

func newMockClient(userID, connID string) *MockClient {
	return newMockClientWithBuffer(userID, connID, 64)
}

func newMockClientWithBuffer(userID, connID string, size int) *MockClient {
	return &MockClient{
		userID: userID,
		connID: connID,
		send:   make(chan models.ServerEvent, size),
	}
}

func (c *MockClient) GetUserID() string                          { return c.userID }
func (c *MockClient) GetConnID() string                          { return c.connID }
func (c *MockClient) GetSendChannel() chan<- models.ServerEvent { return c.send }

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closed = true
	close(c.send)
}

// Events drains everything queued so far.
func (c *MockClient) Events() []models.ServerEvent {
	var out []models.ServerEvent
	for {
		select {
		case e, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func names(events []models.ServerEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Event)
	}
	return out
}
