package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"relaychat/backend/internal/config"
	"relaychat/backend/internal/encryption"
	"relaychat/backend/internal/models"
	"relaychat/backend/internal/storage"

	"golang.org/x/sync/errgroup"
)

// Cache is the advisory read-through cache used by Service. Every method
// absorbs backend failures.
type Cache interface {
	GetChat(ctx context.Context, chatID string) *models.Chat
	SetChat(ctx context.Context, chat *models.Chat)
	InvalidateChat(ctx context.Context, chatID string)
	CacheMessage(ctx context.Context, msg *models.Message)
	GetCachedMessage(ctx context.Context, messageID string) *models.Message
	InvalidateMessage(ctx context.Context, messageID string)
}

type Options struct {
	EditWindow time.Duration
	// RetainPlaintext keeps Content next to the envelope of encrypted
	// messages. When false, encrypted messages are stored without plaintext.
	RetainPlaintext bool
	Now             func() time.Time
}

// Service owns the chat and message business rules. All durable writes go
// through it.
type Service struct {
	repo   storage.Repository
	cache  Cache
	crypto *encryption.Engine
	opts   Options
}

func NewService(repo storage.Repository, cache Cache, crypto *encryption.Engine, opts Options) *Service {
	if opts.EditWindow <= 0 {
		opts.EditWindow = config.DefaultEditWindow
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: repo, cache: cache, crypto: crypto, opts: opts}
}

func (s *Service) now() time.Time { return s.opts.Now() }

// writeChat runs a durable mutation of a chat and drops its cache entry.
// The entry is dropped even when the write fails part way.
func (s *Service) writeChat(ctx context.Context, chatID string, write func() error) error {
	err := write()
	s.cache.InvalidateChat(ctx, chatID)
	return err
}

// writeMessage is writeChat for messages.
func (s *Service) writeMessage(ctx context.Context, messageID string, write func() error) error {
	err := write()
	s.cache.InvalidateMessage(ctx, messageID)
	return err
}

// IsActiveParticipant reports whether the user is a non-blocked participant.
func (s *Service) IsActiveParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	ok, err := s.repo.IsActiveParticipant(ctx, chatID, userID)
	if err != nil {
		return false, storeError(err, "participant")
	}
	return ok, nil
}

func (s *Service) requireParticipant(ctx context.Context, chatID, userID string) error {
	ok, err := s.IsActiveParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not an active participant of chat %s", ErrAuthorization, chatID)
	}
	return nil
}

// CreateChat creates a chat with the creator as admin and the requested
// users as members. A direct chat between two users is created at most once;
// asking again returns the existing one.
func (s *Service) CreateChat(ctx context.Context, creatorID string, req models.CreateChatRequest) (*models.Chat, error) {
	if !req.Type.Valid() {
		return nil, validationf("unknown chat type %q", req.Type)
	}

	others := uniqueUsers(req.ParticipantIDs, creatorID)
	if len(others) == 0 {
		return nil, validationf("participant list is empty")
	}

	chat := &models.Chat{
		Kind:        req.Type,
		Name:        trimmedOrNil(req.Name),
		Description: trimmedOrNil(req.Description),
		IsPrivate:   req.IsPrivate,
		CreatedBy:   creatorID,
	}

	switch req.Type {
	case models.ChatDirect:
		if len(others) != 1 {
			return nil, validationf("a direct chat needs exactly one other participant")
		}
		existing, err := s.repo.FindDirectChat(ctx, creatorID, others[0])
		if err == nil {
			s.cache.SetChat(ctx, existing)
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, storeError(err, "chat")
		}
		key := models.DirectChatKey(creatorID, others[0])
		chat.DirectKey = &key
		chat.IsPrivate = true
	default:
		if chat.Name == nil {
			return nil, validationf("%s chat needs a name", req.Type)
		}
	}

	key, err := s.crypto.GenerateChatKey()
	if err != nil {
		return nil, err
	}
	chat.EncryptionKey = key

	participants := make([]models.Participant, 0, len(others)+1)
	participants = append(participants, models.Participant{UserID: creatorID, Role: models.RoleAdmin})
	for _, id := range others {
		participants = append(participants, models.Participant{UserID: id, Role: models.RoleMember})
	}

	if err := s.repo.CreateChat(ctx, chat, participants); err != nil {
		// Lost a race with a concurrent creation of the same direct chat.
		if chat.Kind == models.ChatDirect && errors.Is(err, storage.ErrDuplicate) {
			existing, ferr := s.repo.FindDirectChat(ctx, creatorID, others[0])
			if ferr == nil {
				s.cache.SetChat(ctx, existing)
				return existing, nil
			}
		}
		return nil, storeError(err, "chat")
	}

	log.Printf("INFO: [chat] Chat %s (%s) created by %s with %d participants", chat.ID, chat.Kind, creatorID, chat.ParticipantCount)
	s.cache.SetChat(ctx, chat)
	return chat, nil
}

// loadChat is the cache-then-store read of a chat. The cached copy never
// carries the encryption key.
func (s *Service) loadChat(ctx context.Context, chatID string) (*models.Chat, error) {
	if chat := s.cache.GetChat(ctx, chatID); chat != nil {
		return chat, nil
	}
	chat, err := s.repo.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, storeError(err, "chat")
	}
	s.cache.SetChat(ctx, chat)
	return chat, nil
}

// chatKey always reads the durable store since keys are never cached.
func (s *Service) chatKey(ctx context.Context, chatID string) (string, error) {
	chat, err := s.repo.GetChatByID(ctx, chatID)
	if err != nil {
		return "", storeError(err, "chat")
	}
	return chat.EncryptionKey, nil
}

// GetChat returns a chat the user actively participates in.
func (s *Service) GetChat(ctx context.Context, chatID, userID string) (*models.Chat, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.loadChat(ctx, chatID)
}

// GetUserChats lists the user's chats by last activity, each with its most
// recent non-deleted message.
func (s *Service) GetUserChats(ctx context.Context, userID string, p models.Pagination) (models.Page[models.ChatSummary], error) {
	p = p.Normalize()

	var (
		chats []models.Chat
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		chats, err = s.repo.ListUserChats(gctx, userID, p.Limit, p.Offset())
		return err
	})
	g.Go(func() (err error) {
		total, err = s.repo.CountUserChats(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Page[models.ChatSummary]{}, storeError(err, "chats")
	}

	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	latest, err := s.repo.LatestMessages(ctx, ids)
	if err != nil {
		return models.Page[models.ChatSummary]{}, storeError(err, "messages")
	}

	summaries := make([]models.ChatSummary, 0, len(chats))
	for _, c := range chats {
		summary := models.ChatSummary{Chat: c}
		if m, ok := latest[c.ID]; ok {
			s.reveal(&m, c.EncryptionKey)
			summary.LastMessage = &m
		}
		summaries = append(summaries, summary)
	}
	return models.NewPage(summaries, total, p), nil
}

// AddParticipants adds members to a group or channel. Only an admin or
// moderator of the chat may do so.
func (s *Service) AddParticipants(ctx context.Context, actorID, chatID string, userIDs []string) (*models.Chat, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Kind == models.ChatDirect {
		return nil, validationf("participants of a direct chat are fixed")
	}

	actor, err := s.repo.GetParticipant(ctx, chatID, actorID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, storeError(err, "participant")
	}
	if actor == nil || actor.IsBlocked || actor.Role == models.RoleMember {
		return nil, fmt.Errorf("%w: only admins and moderators can add participants", ErrAuthorization)
	}

	users := uniqueUsers(userIDs, "")
	if len(users) == 0 {
		return nil, validationf("participant list is empty")
	}
	participants := make([]models.Participant, 0, len(users))
	for _, id := range users {
		participants = append(participants, models.Participant{UserID: id, Role: models.RoleMember})
	}

	err = s.writeChat(ctx, chatID, func() error {
		return s.repo.AddParticipants(ctx, chatID, participants)
	})
	if err != nil {
		return nil, storeError(err, "participant")
	}
	return s.loadChat(ctx, chatID)
}

// SetBlocked blocks or unblocks a participant. A blocked participant keeps
// the row but can no longer send or read.
func (s *Service) SetBlocked(ctx context.Context, chatID, userID string, blocked bool) error {
	err := s.writeChat(ctx, chatID, func() error {
		return s.repo.UpdateParticipant(ctx, chatID, userID, map[string]interface{}{"is_blocked": blocked})
	})
	return storeError(err, "participant")
}

func (s *Service) SetRole(ctx context.Context, chatID, userID string, role models.ParticipantRole) error {
	if !role.Valid() {
		return validationf("unknown role %q", role)
	}
	err := s.writeChat(ctx, chatID, func() error {
		return s.repo.UpdateParticipant(ctx, chatID, userID, map[string]interface{}{"role": role})
	})
	return storeError(err, "participant")
}

// uniqueUsers drops blanks, duplicates and the excluded id, keeping order.
func uniqueUsers(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
