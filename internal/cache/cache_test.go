package cache

import (
	"context"
	"testing"
	"time"

	"relaychat/backend/internal/config"
	"relaychat/backend/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// newTestService starts an in-process Redis and returns a Service bound to it.
func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	return NewService(rdb), mr
}

func TestChatCache_SetGetInvalidate(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()
	name := "general"
	chat := &models.Chat{ID: "chat-1", Kind: models.ChatGroup, Name: &name, EncryptionKey: "secret-key", ParticipantCount: 3}

	assert.Nil(t, svc.GetChat(ctx, "chat-1"), "miss before set")

	svc.SetChat(ctx, chat)
	got := svc.GetChat(ctx, "chat-1")
	require.NotNil(t, got)
	assert.Equal(t, 3, got.ParticipantCount)
	assert.Equal(t, "general", *got.Name)
	assert.Empty(t, got.EncryptionKey, "chat keys must never be written to the cache")
	assert.True(t, mr.TTL(ChatPrefix+"chat-1") > 0)

	svc.InvalidateChat(ctx, "chat-1")
	assert.Nil(t, svc.GetChat(ctx, "chat-1"))
}

func TestChatCache_Expires(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	svc.SetChat(ctx, &models.Chat{ID: "chat-ttl"})
	mr.FastForward(config.ChatCacheTTL + time.Second)

	assert.Nil(t, svc.GetChat(ctx, "chat-ttl"))
}

func TestChatCache_CorruptEntryIsDropped(t *testing.T) {
	svc, mr := newTestService(t)
	require.NoError(t, mr.Set(ChatPrefix+"broken", "{not json"))

	assert.Nil(t, svc.GetChat(context.Background(), "broken"))
	assert.False(t, mr.Exists(ChatPrefix+"broken"))
}

func TestMessageCache_KeepsEnvelope(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	msg := &models.Message{
		ID:               "msg-1",
		ChatID:           "chat-1",
		SenderID:         "user_A",
		Type:             models.MessageText,
		IsEncrypted:      true,
		EncryptedContent: "Y2lwaGVy",
		EncryptionMeta:   datatypes.JSONMap{"iv": "aXY=", "tag": "dGFn", "algorithm": "aes-256-gcm"},
		ReadBy:           []models.MessageRead{{UserID: "user_A", ReadAt: time.Now().UTC()}},
	}

	svc.CacheMessage(ctx, msg)
	got := svc.GetCachedMessage(ctx, "msg-1")
	require.NotNil(t, got)
	assert.Equal(t, "Y2lwaGVy", got.EncryptedContent)
	assert.Equal(t, "aXY=", got.EncryptionMeta["iv"])
	assert.Len(t, got.ReadBy, 1)

	svc.InvalidateMessage(ctx, "msg-1")
	assert.Nil(t, svc.GetCachedMessage(ctx, "msg-1"))
}

func TestRoomMembership_AddRemoveList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.AddUserToRoom(ctx, "chat-1", "user_A")
	svc.AddUserToRoom(ctx, "chat-1", "user_B")
	svc.AddUserToRoom(ctx, "chat-1", "user_A") // refresh, not a duplicate

	assert.ElementsMatch(t, []string{"user_A", "user_B"}, svc.GetRoomParticipants(ctx, "chat-1"))

	svc.RemoveUserFromRoom(ctx, "chat-1", "user_A")
	assert.Equal(t, []string{"user_B"}, svc.GetRoomParticipants(ctx, "chat-1"))
	assert.Empty(t, svc.GetRoomParticipants(ctx, "chat-unknown"))
}

func TestRoomMembership_EntriesExpireWithoutRefresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	svc.AddUserToRoom(ctx, "chat-1", "user_stale")
	now = now.Add(config.RoomMembershipTTL / 2)
	svc.AddUserToRoom(ctx, "chat-1", "user_live")

	now = now.Add(config.RoomMembershipTTL/2 + time.Second)
	assert.Equal(t, []string{"user_live"}, svc.GetRoomParticipants(ctx, "chat-1"),
		"the entry that was never refreshed must be pruned")
}

func TestTyping_SetClearAndExpire(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	svc.SetTyping(ctx, "chat-1", "user_A")
	svc.SetTyping(ctx, "chat-1", "user_B")
	svc.SetTyping(ctx, "chat-2", "user_C")

	assert.ElementsMatch(t, []string{"user_A", "user_B"}, svc.GetTypingUsers(ctx, "chat-1"))

	svc.ClearTyping(ctx, "chat-1", "user_A")
	assert.Equal(t, []string{"user_B"}, svc.GetTypingUsers(ctx, "chat-1"))

	mr.FastForward(config.TypingTTL + time.Second)
	assert.Empty(t, svc.GetTypingUsers(ctx, "chat-1"))
	assert.Empty(t, svc.GetTypingUsers(ctx, "chat-2"))
}

func TestPresence_LatestConnectionWins(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.SetConnection(ctx, models.ConnectionState{UserID: "user_A", ConnID: "conn-1", Status: "online"})
	svc.SetConnection(ctx, models.ConnectionState{UserID: "user_A", ConnID: "conn-2", Status: "online"})

	state := svc.GetConnection(ctx, "user_A")
	require.NotNil(t, state)
	assert.Equal(t, "conn-2", state.ConnID)

	// The older device disconnecting must not erase the newer presence.
	svc.RemoveConnection(ctx, "user_A", "conn-1")
	require.NotNil(t, svc.GetConnection(ctx, "user_A"))

	svc.RemoveConnection(ctx, "user_A", "conn-2")
	assert.Nil(t, svc.GetConnection(ctx, "user_A"))
}

func TestPresence_RefreshOnlyByOwner(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	svc.SetConnection(ctx, models.ConnectionState{UserID: "user_A", ConnID: "conn-1"})
	mr.FastForward(config.PresenceTTL - 10*time.Second)

	svc.RefreshConnection(ctx, "user_A", "conn-other")
	assert.True(t, mr.TTL(PresencePrefix+"user_A") <= 10*time.Second)

	svc.RefreshConnection(ctx, "user_A", "conn-1")
	assert.Equal(t, config.PresenceTTL, mr.TTL(PresencePrefix+"user_A"))
}

func TestBackendDown_NeutralResults(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()
	mr.Close()

	assert.NotPanics(t, func() {
		svc.SetChat(ctx, &models.Chat{ID: "chat-1"})
		svc.CacheMessage(ctx, &models.Message{ID: "msg-1"})
		svc.AddUserToRoom(ctx, "chat-1", "user_A")
		svc.SetTyping(ctx, "chat-1", "user_A")
		svc.SetConnection(ctx, models.ConnectionState{UserID: "user_A", ConnID: "c"})
		svc.RemoveConnection(ctx, "user_A", "c")
		svc.InvalidateChat(ctx, "chat-1")
	})

	assert.Nil(t, svc.GetChat(ctx, "chat-1"))
	assert.Nil(t, svc.GetCachedMessage(ctx, "msg-1"))
	assert.Empty(t, svc.GetRoomParticipants(ctx, "chat-1"))
	assert.Empty(t, svc.GetTypingUsers(ctx, "chat-1"))
	assert.Nil(t, svc.GetConnection(ctx, "user_A"))
	assert.Error(t, svc.Ping(ctx))
}
