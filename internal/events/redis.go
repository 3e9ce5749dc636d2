package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"relaychat/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes envelopes on Redis Pub/Sub channels named like the
// NATS subjects. Used when NATS is not deployed.
type RedisPublisher struct {
	rdb redis.UniversalClient
}

func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, chatID string, event models.ServerEvent) error {
	data, err := encode(chatID, event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Event, err)
	}
	return p.rdb.Publish(ctx, Subject(chatID), data).Err()
}

// Close is a no-op; the Redis client is owned by the caller.
func (p *RedisPublisher) Close() {}

// SubscribeRedis delivers decoded envelopes of every chat to handle until ctx
// is done. Payloads that fail to decode are logged and skipped.
func SubscribeRedis(ctx context.Context, rdb redis.UniversalClient, handle func(Envelope)) error {
	pubsub := rdb.PSubscribe(ctx, SubjectChatEvents+".*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectChatEvents, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("WARNING: [events] Bad payload on %s: %v", msg.Channel, err)
				continue
			}
			handle(env)
		}
	}
}
