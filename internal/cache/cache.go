// Package cache is the ephemeral side of the chat backend: cache-aside copies
// of chats and messages, live room membership, typing markers and connection
// presence, all in Redis with per-key expiry.
//
// Every method absorbs backend failures. Errors are logged and the caller
// gets a neutral result (nil, empty slice, no-op), so the cache is strictly
// advisory and a Redis outage never becomes a user-facing error.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"relaychat/backend/internal/config"
	"relaychat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
)

const (
	ChatPrefix     = "chat:"
	MessagePrefix  = "message:"
	RoomPrefix     = "room:participants:"
	TypingPrefix   = "typing:"
	PresencePrefix = "presence:"
)

// ErrBackendUnavailable wraps every Redis failure before it is logged. It
// never leaves this package.
var ErrBackendUnavailable = errors.New("cache backend unavailable")

// Service implements the cache operations on top of a Redis client.
type Service struct {
	rdb          redis.UniversalClient
	now          func() time.Time
	removeScript *redis.Script
}

// NewService creates a cache service backed by rdb.
func NewService(rdb redis.UniversalClient) *Service {
	return &Service{
		rdb:          rdb,
		now:          time.Now,
		removeScript: redis.NewScript(removeConnectionLua),
	}
}

// Ping checks backend connectivity; used by health checks only.
func (s *Service) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Service) warn(op, key string, err error) {
	log.Printf("WARNING: [cache] %v", fmt.Errorf("%w: %s %s: %v", ErrBackendUnavailable, op, key, err))
}

// ---------------------------------------------------------------------------
// Chat metadata
// ---------------------------------------------------------------------------

// GetChat returns the cached chat or nil on a miss or backend failure.
func (s *Service) GetChat(ctx context.Context, chatID string) *models.Chat {
	key := ChatPrefix + chatID
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		s.warn("GET", key, err)
		return nil
	}

	var chat models.Chat
	if err := json.Unmarshal(raw, &chat); err != nil {
		log.Printf("WARNING: [cache] corrupt entry %s: %v", key, err)
		s.rdb.Del(ctx, key)
		return nil
	}
	return &chat
}

// SetChat stores chat metadata. The encryption key is not serialized.
func (s *Service) SetChat(ctx context.Context, chat *models.Chat) {
	if chat == nil {
		return
	}
	key := ChatPrefix + chat.ID
	data, err := json.Marshal(chat)
	if err != nil {
		log.Printf("ERROR: [cache] marshal chat %s: %v", chat.ID, err)
		return
	}
	if err := s.rdb.Set(ctx, key, data, config.ChatCacheTTL).Err(); err != nil {
		s.warn("SET", key, err)
	}
}

// InvalidateChat drops the cached copy of a chat.
func (s *Service) InvalidateChat(ctx context.Context, chatID string) {
	key := ChatPrefix + chatID
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.warn("DEL", key, err)
	}
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// cachedMessage carries the envelope fields that the public JSON form of a
// message omits.
type cachedMessage struct {
	models.Message
	EncryptedContent string            `json:"encryptedContent,omitempty"`
	EncryptionMeta   datatypes.JSONMap `json:"encryptionMeta,omitempty"`
}

// CacheMessage stores a message.
func (s *Service) CacheMessage(ctx context.Context, msg *models.Message) {
	if msg == nil {
		return
	}
	key := MessagePrefix + msg.ID
	entry := cachedMessage{
		Message:          *msg,
		EncryptedContent: msg.EncryptedContent,
		EncryptionMeta:   msg.EncryptionMeta,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("ERROR: [cache] marshal message %s: %v", msg.ID, err)
		return
	}
	if err := s.rdb.Set(ctx, key, data, config.MessageCacheTTL).Err(); err != nil {
		s.warn("SET", key, err)
	}
}

// GetCachedMessage returns the cached message or nil.
func (s *Service) GetCachedMessage(ctx context.Context, messageID string) *models.Message {
	key := MessagePrefix + messageID
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		s.warn("GET", key, err)
		return nil
	}

	var entry cachedMessage
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Printf("WARNING: [cache] corrupt entry %s: %v", key, err)
		s.rdb.Del(ctx, key)
		return nil
	}
	msg := entry.Message
	msg.EncryptedContent = entry.EncryptedContent
	msg.EncryptionMeta = entry.EncryptionMeta
	return &msg
}

// InvalidateMessage drops the cached copy of a message.
func (s *Service) InvalidateMessage(ctx context.Context, messageID string) {
	key := MessagePrefix + messageID
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.warn("DEL", key, err)
	}
}

// ---------------------------------------------------------------------------
// Room membership
// ---------------------------------------------------------------------------

// Room membership is a sorted set scored by each entry's expiry (unix
// seconds). Re-adding a user refreshes its entry; readers prune expired ones.

// AddUserToRoom registers (or refreshes) userID in the live room of chatID.
func (s *Service) AddUserToRoom(ctx context.Context, chatID, userID string) {
	key := RoomPrefix + chatID
	expiry := s.now().Add(config.RoomMembershipTTL).Unix()

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiry), Member: userID})
	pipe.Expire(ctx, key, config.RoomMembershipTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.warn("ZADD", key, err)
	}
}

// RemoveUserFromRoom removes userID from the live room of chatID.
func (s *Service) RemoveUserFromRoom(ctx context.Context, chatID, userID string) {
	key := RoomPrefix + chatID
	if err := s.rdb.ZRem(ctx, key, userID).Err(); err != nil {
		s.warn("ZREM", key, err)
	}
}

// GetRoomParticipants returns the users whose membership has not expired.
func (s *Service) GetRoomParticipants(ctx context.Context, chatID string) []string {
	key := RoomPrefix + chatID
	now := strconv.FormatInt(s.now().Unix(), 10)

	pipe := s.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", now)
	members := pipe.ZRange(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		s.warn("ZRANGE", key, err)
		return []string{}
	}
	return members.Val()
}

// ---------------------------------------------------------------------------
// Typing indicators
// ---------------------------------------------------------------------------

func typingKey(chatID, userID string) string {
	return TypingPrefix + chatID + ":" + userID
}

// SetTyping marks userID as typing in chatID for config.TypingTTL.
func (s *Service) SetTyping(ctx context.Context, chatID, userID string) {
	key := typingKey(chatID, userID)
	if err := s.rdb.Set(ctx, key, "1", config.TypingTTL).Err(); err != nil {
		s.warn("SET", key, err)
	}
}

// ClearTyping removes the typing marker of userID in chatID.
func (s *Service) ClearTyping(ctx context.Context, chatID, userID string) {
	key := typingKey(chatID, userID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.warn("DEL", key, err)
	}
}

// GetTypingUsers returns the users with a live typing marker in chatID.
func (s *Service) GetTypingUsers(ctx context.Context, chatID string) []string {
	prefix := TypingPrefix + chatID + ":"
	users := []string{}

	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		users = append(users, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		s.warn("SCAN", prefix+"*", err)
		return []string{}
	}
	return users
}

// ---------------------------------------------------------------------------
// Presence
// ---------------------------------------------------------------------------

// The presence hash keeps the owning connection id next to the state so a
// stale connection can only remove its own record.
const removeConnectionLua = `
if redis.call('HGET', KEYS[1], 'conn_id') == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// SetConnection records state as the user's latest connection, replacing
// whatever was there.
func (s *Service) SetConnection(ctx context.Context, state models.ConnectionState) {
	key := PresencePrefix + state.UserID
	data, err := json.Marshal(state)
	if err != nil {
		log.Printf("ERROR: [cache] marshal presence %s: %v", state.UserID, err)
		return
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "conn_id", state.ConnID, "state", data)
	pipe.Expire(ctx, key, config.PresenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.warn("HSET", key, err)
	}
}

// RefreshConnection extends the presence TTL when connID still owns it.
func (s *Service) RefreshConnection(ctx context.Context, userID, connID string) {
	key := PresencePrefix + userID
	owner, err := s.rdb.HGet(ctx, key, "conn_id").Result()
	if errors.Is(err, redis.Nil) || (err == nil && owner != connID) {
		return
	}
	if err != nil {
		s.warn("HGET", key, err)
		return
	}
	if err := s.rdb.Expire(ctx, key, config.PresenceTTL).Err(); err != nil {
		s.warn("EXPIRE", key, err)
	}
}

// GetConnection returns the latest connection state of userID, or nil when
// the user is offline (or the backend is down).
func (s *Service) GetConnection(ctx context.Context, userID string) *models.ConnectionState {
	key := PresencePrefix + userID
	raw, err := s.rdb.HGet(ctx, key, "state").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		s.warn("HGET", key, err)
		return nil
	}

	var state models.ConnectionState
	if err := json.Unmarshal(raw, &state); err != nil {
		log.Printf("WARNING: [cache] corrupt entry %s: %v", key, err)
		return nil
	}
	return &state
}

// RemoveConnection deletes the presence record of userID if it still
// belongs to connID.
func (s *Service) RemoveConnection(ctx context.Context, userID, connID string) {
	key := PresencePrefix + userID
	if err := s.removeScript.Run(ctx, s.rdb, []string{key}, connID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		s.warn("EVAL", key, err)
	}
}
