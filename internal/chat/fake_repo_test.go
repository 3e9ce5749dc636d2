package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"

	"github.com/google/uuid"
)

// fakeRepo is an in-memory storage.Repository with the same observable
// semantics as the PostgreSQL one.
type fakeRepo struct {
	mu           sync.Mutex
	chats        map[string]models.Chat
	participants map[string]models.Participant // chatID|userID
	messages     map[string]models.Message
	reads        map[string][]models.MessageRead
}

var _ storage.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		chats:        make(map[string]models.Chat),
		participants: make(map[string]models.Participant),
		messages:     make(map[string]models.Message),
		reads:        make(map[string][]models.MessageRead),
	}
}

func pkey(chatID, userID string) string { return chatID + "|" + userID }

func (r *fakeRepo) CreateChat(_ context.Context, chat *models.Chat, participants []models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chat.DirectKey != nil {
		for _, c := range r.chats {
			if c.DirectKey != nil && *c.DirectKey == *chat.DirectKey {
				return storage.ErrDuplicate
			}
		}
	}
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	chat.CreatedAt, chat.UpdatedAt = now, now
	chat.ParticipantCount = len(participants)
	r.chats[chat.ID] = *chat
	for i := range participants {
		participants[i].ChatID = chat.ID
		participants[i].ID = uuid.NewString()
		r.participants[pkey(chat.ID, participants[i].UserID)] = participants[i]
	}
	return nil
}

func (r *fakeRepo) FindDirectChat(_ context.Context, userA, userB string) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.chats {
		if c.Kind != models.ChatDirect {
			continue
		}
		_, okA := r.participants[pkey(id, userA)]
		_, okB := r.participants[pkey(id, userB)]
		if okA && okB {
			out := c
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *fakeRepo) GetChatByID(_ context.Context, chatID string) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (r *fakeRepo) TouchChat(_ context.Context, chatID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.chats[chatID]
	c.LastMessageAt = &at
	c.UpdatedAt = at
	r.chats[chatID] = c
	return nil
}

func (r *fakeRepo) userChats(userID string) []models.Chat {
	var out []models.Chat
	for id, c := range r.chats {
		if p, ok := r.participants[pkey(id, userID)]; ok && !p.IsBlocked {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a != nil && b != nil:
			return a.After(*b)
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *fakeRepo) ListUserChats(_ context.Context, userID string, limit, offset int) ([]models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return window(r.userChats(userID), limit, offset), nil
}

func (r *fakeRepo) CountUserChats(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.userChats(userID))), nil
}

func (r *fakeRepo) GetParticipant(_ context.Context, chatID, userID string) (*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[pkey(chatID, userID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (r *fakeRepo) IsActiveParticipant(_ context.Context, chatID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[pkey(chatID, userID)]
	return ok && !p.IsBlocked, nil
}

func (r *fakeRepo) AddParticipants(_ context.Context, chatID string, participants []models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.chats[chatID]
	for _, p := range participants {
		if _, ok := r.participants[pkey(chatID, p.UserID)]; ok {
			continue
		}
		p.ChatID = chatID
		p.ID = uuid.NewString()
		r.participants[pkey(chatID, p.UserID)] = p
		c.ParticipantCount++
	}
	r.chats[chatID] = c
	return nil
}

func (r *fakeRepo) UpdateParticipant(_ context.Context, chatID, userID string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[pkey(chatID, userID)]
	if !ok {
		return storage.ErrNotFound
	}
	if v, ok := updates["is_blocked"].(bool); ok {
		p.IsBlocked = v
	}
	if v, ok := updates["role"].(models.ParticipantRole); ok {
		p.Role = v
	}
	r.participants[pkey(chatID, userID)] = p
	return nil
}

func (r *fakeRepo) AdvanceReadPointer(_ context.Context, chatID, userID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.participants[pkey(chatID, userID)]
	if p.LastReadMessageID != nil {
		if cur, ok := r.messages[*p.LastReadMessageID]; ok && cur.CreatedAt.After(r.messages[messageID].CreatedAt) {
			return nil
		}
	}
	id := messageID
	p.LastReadMessageID = &id
	r.participants[pkey(chatID, userID)] = p
	return nil
}

func (r *fakeRepo) CreateMessage(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	for i := range msg.ReadBy {
		msg.ReadBy[i].MessageID = msg.ID
	}
	stored := *msg
	r.reads[msg.ID] = append([]models.MessageRead(nil), msg.ReadBy...)
	stored.ReadBy = nil
	r.messages[msg.ID] = stored
	return nil
}

func (r *fakeRepo) withReads(m models.Message) models.Message {
	m.ReadBy = append([]models.MessageRead(nil), r.reads[m.ID]...)
	return m
}

func (r *fakeRepo) GetMessageByID(_ context.Context, messageID string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	m = r.withReads(m)
	return &m, nil
}

func (r *fakeRepo) UpdateMessageContent(_ context.Context, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[msg.ID]
	if !ok {
		return storage.ErrNotFound
	}
	m.Content = msg.Content
	m.EncryptedContent = msg.EncryptedContent
	m.EncryptionMeta = msg.EncryptionMeta
	m.IsEncrypted = msg.IsEncrypted
	m.IsEdited = true
	m.UpdatedAt = msg.UpdatedAt
	r.messages[msg.ID] = m
	return nil
}

func (r *fakeRepo) SoftDeleteMessage(_ context.Context, messageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok {
		return storage.ErrNotFound
	}
	m.IsDeleted = true
	m.UpdatedAt = at
	r.messages[messageID] = m
	return nil
}

func (r *fakeRepo) AddMessageRead(_ context.Context, read models.MessageRead) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.reads[read.MessageID] {
		if existing.UserID == read.UserID {
			return false, nil
		}
	}
	r.reads[read.MessageID] = append(r.reads[read.MessageID], read)
	return true, nil
}

// chatMessages returns non-deleted messages newest first.
func (r *fakeRepo) chatMessages(chatID string) []models.Message {
	var out []models.Message
	for _, m := range r.messages {
		if m.ChatID == chatID && !m.IsDeleted {
			out = append(out, r.withReads(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *fakeRepo) ListMessages(_ context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return window(r.chatMessages(chatID), limit, offset), nil
}

func (r *fakeRepo) CountMessages(_ context.Context, chatID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.chatMessages(chatID))), nil
}

func (r *fakeRepo) LatestMessages(_ context.Context, chatIDs []string) (map[string]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.Message)
	for _, id := range chatIDs {
		if msgs := r.chatMessages(id); len(msgs) > 0 {
			out[id] = msgs[0]
		}
	}
	return out, nil
}

// storedMessage returns the raw row as persisted, without read receipts.
func (r *fakeRepo) storedMessage(id string) models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[id]
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
