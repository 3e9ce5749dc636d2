package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"relaychat/backend/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "chat.events.c1", Subject("c1"))
}

func TestEncode(t *testing.T) {
	data, err := encode("c1", models.ServerEvent{
		Event: models.EventMessageDelete,
		Data:  models.MessageDeletedPayload{MessageID: "m1", ChatID: "c1"},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "c1", decoded["chatId"])
	event := decoded["event"].(map[string]any)
	assert.Equal(t, "message:delete", event["event"])
	assert.Equal(t, map[string]any{"messageId": "m1", "chatId": "c1"}, event["data"])
	assert.NotEmpty(t, decoded["publishedAt"])
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), "c1", models.ServerEvent{Event: models.EventMessageNew}))
	p.Close()
}

func TestRedisPublisher_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Envelope, 1)
	done := make(chan error, 1)
	go func() {
		done <- SubscribeRedis(ctx, rdb, func(env Envelope) { got <- env })
	}()
	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, 2*time.Second, 10*time.Millisecond)

	var p Publisher = NewRedisPublisher(rdb)
	require.NoError(t, p.Publish(ctx, "c1", models.ServerEvent{
		Event: models.EventUserLeft,
		Data:  models.MembershipPayload{UserID: "alice", ChatID: "c1"},
	}))

	select {
	case env := <-got:
		assert.Equal(t, "c1", env.ChatID)
		assert.Equal(t, models.EventUserLeft, env.Event.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope received")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
