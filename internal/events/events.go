// Package events mirrors room fan-out onto an event bus so consumers outside
// the gateway (push notifications, search indexing) can follow chat activity.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"relaychat/backend/internal/models"

	"github.com/nats-io/nats.go"
)

// SubjectChatEvents is the subject prefix; the chat id is appended.
const SubjectChatEvents = "chat.events"

// Publisher receives every event the gateway fans out to a room.
type Publisher interface {
	Publish(ctx context.Context, chatID string, event models.ServerEvent) error
	Close()
}

// Subject returns the bus subject for one chat.
func Subject(chatID string) string {
	return SubjectChatEvents + "." + chatID
}

// Envelope is the bus payload: the socket event plus routing data.
type Envelope struct {
	ChatID      string             `json:"chatId"`
	Event       models.ServerEvent `json:"event"`
	PublishedAt time.Time          `json:"publishedAt"`
}

func encode(chatID string, event models.ServerEvent) ([]byte, error) {
	return json.Marshal(Envelope{ChatID: chatID, Event: event, PublishedAt: time.Now().UTC()})
}

// NopPublisher drops events. Used when no bus is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, models.ServerEvent) error { return nil }
func (NopPublisher) Close()                                                   {}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int // -1 for infinite
}

func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		Name:          "relaychat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSPublisher publishes envelopes to chat.events.<chatId>.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to NATS. It fails if the initial connection fails.
func NewNATSPublisher(config NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("WARNING: [nats] disconnected: %v", err)
			} else {
				log.Printf("WARNING: [nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("INFO: [nats] reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Printf("INFO: [nats] connected to %s", nc.ConnectedUrl())
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, chatID string, event models.ServerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(chatID, event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Event, err)
	}
	return p.conn.Publish(Subject(chatID), data)
}

// Close flushes pending publishes and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Printf("WARNING: [nats] connection drain: %v", err)
	}
	log.Printf("INFO: [nats] publisher closed")
}
