package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"relaychat/backend/internal/config"
	"relaychat/backend/internal/encryption"
	"relaychat/backend/internal/models"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// ReadReceipt is the outcome of MarkMessageAsRead. Added is false when the
// user had already read the message.
type ReadReceipt struct {
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
	Added     bool      `json:"added"`
}

func validateContent(content string) error {
	if utf8.RuneCountInString(content) > config.MaxContentLength {
		return validationf("content exceeds %d characters", config.MaxContentLength)
	}
	return nil
}

func validateSend(req models.SendMessageRequest) error {
	if strings.TrimSpace(req.ChatID) == "" {
		return validationf("chatId is required")
	}
	if !req.Type.Valid() {
		return validationf("unknown message type %q", req.Type)
	}
	if req.Type == models.MessageSystem {
		return validationf("system messages cannot be sent by clients")
	}
	if req.Type == models.MessageText && strings.TrimSpace(req.Content) == "" {
		return validationf("content is required")
	}
	if req.Type.NeedsFile() && (req.FileID == nil || strings.TrimSpace(*req.FileID) == "") {
		return validationf("fileId is required for %s messages", req.Type)
	}
	return validateContent(req.Content)
}

// loadMessage is the cache-then-store read of a message, deleted or not.
func (s *Service) loadMessage(ctx context.Context, messageID string) (*models.Message, error) {
	if msg := s.cache.GetCachedMessage(ctx, messageID); msg != nil {
		return msg, nil
	}
	msg, err := s.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, storeError(err, "message")
	}
	s.cache.CacheMessage(ctx, msg)
	return msg, nil
}

// seal stores plaintext on msg as an envelope. Without a chat key the message
// is kept in plaintext.
func (s *Service) seal(msg *models.Message, plaintext, key string) error {
	msg.Content = plaintext
	if key == "" {
		msg.IsEncrypted = false
		msg.EncryptedContent = ""
		msg.EncryptionMeta = nil
		return nil
	}
	env, err := s.crypto.Encrypt(plaintext, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}
	msg.IsEncrypted = true
	msg.EncryptedContent = env.Ciphertext
	msg.EncryptionMeta = datatypes.JSONMap{
		"iv":        env.IV,
		"tag":       env.Tag,
		"algorithm": env.Algorithm,
	}
	if !s.opts.RetainPlaintext {
		msg.Content = ""
	}
	return nil
}

func envelopeOf(msg *models.Message) encryption.Envelope {
	meta := func(k string) string {
		v, _ := msg.EncryptionMeta[k].(string)
		return v
	}
	return encryption.Envelope{
		Ciphertext: msg.EncryptedContent,
		IV:         meta("iv"),
		Tag:        meta("tag"),
		Algorithm:  meta("algorithm"),
	}
}

// reveal fills Content of a stored encrypted message from its envelope. On
// failure Content stays empty and the message is flagged undecryptable; the
// ciphertext is never copied into Content.
func (s *Service) reveal(msg *models.Message, key string) {
	if !msg.IsEncrypted || msg.Content != "" {
		return
	}
	plaintext, err := s.crypto.Decrypt(envelopeOf(msg), key)
	if err != nil {
		log.Printf("WARNING: [chat] Cannot decrypt message %s: %v", msg.ID, err)
		msg.Undecryptable = true
		return
	}
	msg.Content = plaintext
}

// revealAll decrypts a batch of messages from one chat, loading the key only
// when something needs it.
func (s *Service) revealAll(ctx context.Context, chatID string, msgs []models.Message) {
	key, loaded := "", false
	for i := range msgs {
		if !msgs[i].IsEncrypted || msgs[i].Content != "" {
			continue
		}
		if !loaded {
			k, err := s.chatKey(ctx, chatID)
			if err != nil {
				log.Printf("WARNING: [chat] Cannot load key of chat %s: %v", chatID, err)
			}
			key, loaded = k, true
		}
		s.reveal(&msgs[i], key)
	}
}

// SendMessage stores a new message from an active participant, bumps the
// chat's activity time and caches the message. The returned message carries
// plaintext content.
func (s *Service) SendMessage(ctx context.Context, senderID string, req models.SendMessageRequest) (*models.Message, error) {
	if err := validateSend(req); err != nil {
		return nil, err
	}
	if err := s.requireParticipant(ctx, req.ChatID, senderID); err != nil {
		return nil, err
	}

	chat, err := s.loadChat(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}

	if req.ReplyToID != nil && *req.ReplyToID != "" {
		parent, err := s.loadMessage(ctx, *req.ReplyToID)
		if err != nil || parent.IsDeleted || parent.ChatID != req.ChatID {
			return nil, validationf("replyToId %s does not reference a message in this chat", *req.ReplyToID)
		}
	}

	now := s.now()
	msg := &models.Message{
		ChatID:    req.ChatID,
		SenderID:  senderID,
		Type:      req.Type,
		FileID:    req.FileID,
		ReplyToID: req.ReplyToID,
		ReadBy:    []models.MessageRead{{UserID: senderID, ReadAt: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	key := ""
	if req.Encrypt {
		key = chat.EncryptionKey
		if key == "" {
			// Cached chats come without the key.
			if key, err = s.chatKey(ctx, req.ChatID); err != nil {
				return nil, err
			}
		}
	}
	if err := s.seal(msg, req.Content, key); err != nil {
		return nil, err
	}

	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, storeError(err, "message")
	}
	err = s.writeChat(ctx, req.ChatID, func() error {
		return s.repo.TouchChat(ctx, req.ChatID, now)
	})
	if err != nil {
		// The message exists; a stale activity time is tolerable.
		log.Printf("ERROR: [chat] Failed to update activity of chat %s: %v", req.ChatID, err)
	}
	s.cache.CacheMessage(ctx, msg)

	out := *msg
	out.Content = req.Content
	return &out, nil
}

// GetChatMessages returns one page of non-deleted messages in chronological
// order. The page and the total count are queried concurrently.
func (s *Service) GetChatMessages(ctx context.Context, chatID, userID string, p models.Pagination) (models.Page[models.Message], error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return models.Page[models.Message]{}, err
	}
	p = p.Normalize()

	var (
		msgs  []models.Message
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		msgs, err = s.repo.ListMessages(gctx, chatID, p.Limit, p.Offset())
		return err
	})
	g.Go(func() (err error) {
		total, err = s.repo.CountMessages(gctx, chatID)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Page[models.Message]{}, storeError(err, "messages")
	}

	// The window is fetched newest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	s.revealAll(ctx, chatID, msgs)

	return models.NewPage(msgs, total, p), nil
}

// MarkMessageAsRead appends a read receipt for the user. Repeated calls are
// no-ops that report the original read time.
func (s *Service) MarkMessageAsRead(ctx context.Context, messageID, userID string) (ReadReceipt, error) {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return ReadReceipt{}, err
	}
	if msg.IsDeleted {
		return ReadReceipt{}, notFound("message")
	}
	if err := s.requireParticipant(ctx, msg.ChatID, userID); err != nil {
		return ReadReceipt{}, err
	}

	receipt := ReadReceipt{ChatID: msg.ChatID, MessageID: msg.ID, UserID: userID}
	if at, ok := msg.ReadAt(userID); ok {
		receipt.ReadAt = at
		return receipt, nil
	}

	receipt.ReadAt = s.now()
	err = s.writeMessage(ctx, msg.ID, func() (err error) {
		receipt.Added, err = s.repo.AddMessageRead(ctx, models.MessageRead{
			MessageID: msg.ID,
			UserID:    userID,
			ReadAt:    receipt.ReadAt,
		})
		return err
	})
	if err != nil {
		return ReadReceipt{}, storeError(err, "read receipt")
	}

	if !receipt.Added {
		// A concurrent call won; report its timestamp.
		if stored, err := s.repo.GetMessageByID(ctx, msg.ID); err == nil {
			if at, ok := stored.ReadAt(userID); ok {
				receipt.ReadAt = at
			}
		}
		return receipt, nil
	}

	if err := s.repo.AdvanceReadPointer(ctx, msg.ChatID, userID, msg.ID); err != nil {
		log.Printf("ERROR: [chat] Failed to advance read pointer of %s in chat %s: %v", userID, msg.ChatID, err)
	}
	return receipt, nil
}

// EditMessage replaces the content of a message. Only the sender may edit,
// and only within the edit window measured from creation.
func (s *Service) EditMessage(ctx context.Context, messageID, userID, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, validationf("content is required")
	}
	if err := validateContent(content); err != nil {
		return nil, err
	}

	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, notFound("message")
	}
	if msg.SenderID != userID {
		return nil, fmt.Errorf("%w: only the sender can edit a message", ErrAuthorization)
	}
	if err := s.requireParticipant(ctx, msg.ChatID, userID); err != nil {
		return nil, err
	}

	now := s.now()
	if now.After(msg.CreatedAt.Add(s.opts.EditWindow)) {
		return nil, fmt.Errorf("%w: messages can only be edited within %s", ErrEditWindowExpired, s.opts.EditWindow)
	}

	key := ""
	if msg.IsEncrypted {
		if key, err = s.chatKey(ctx, msg.ChatID); err != nil {
			return nil, err
		}
	}
	if err := s.seal(msg, content, key); err != nil {
		return nil, err
	}
	msg.IsEdited = true
	msg.UpdatedAt = now

	err = s.writeMessage(ctx, msg.ID, func() error {
		return s.repo.UpdateMessageContent(ctx, msg)
	})
	if err != nil {
		return nil, storeError(err, "message")
	}

	out := *msg
	out.Content = content
	return &out, nil
}

// DeleteMessage soft-deletes a message of the sender, who must still be an
// active participant of the chat. The returned message
// keeps its id and chat for event correlation.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID string) (*models.Message, error) {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, notFound("message")
	}
	if msg.SenderID != userID {
		return nil, fmt.Errorf("%w: only the sender can delete a message", ErrAuthorization)
	}
	if err := s.requireParticipant(ctx, msg.ChatID, userID); err != nil {
		return nil, err
	}

	now := s.now()
	err = s.writeMessage(ctx, msg.ID, func() error {
		return s.repo.SoftDeleteMessage(ctx, msg.ID, now)
	})
	if err != nil {
		return nil, storeError(err, "message")
	}

	msg.IsDeleted = true
	msg.UpdatedAt = now
	return msg, nil
}
