package storage

import (
	"context"
	"time"

	"relaychat/backend/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateMessage inserts the message together with its initial read receipts.
func (s *Service) CreateMessage(ctx context.Context, msg *models.Message) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("ReadBy").Create(msg).Error; err != nil {
			return err
		}
		for i := range msg.ReadBy {
			msg.ReadBy[i].MessageID = msg.ID
		}
		if len(msg.ReadBy) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&msg.ReadBy).Error
	})
	return translate(err)
}

// GetMessageByID loads a message with its read receipts. Soft-deleted
// messages are returned as well; callers decide how to treat them.
func (s *Service) GetMessageByID(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).
		Preload("ReadBy", func(db *gorm.DB) *gorm.DB { return db.Order("read_at ASC") }).
		Where("id = ?", messageID).
		First(&msg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

// UpdateMessageContent persists an edit: the content columns, the edited
// flag and the update time.
func (s *Service) UpdateMessageContent(ctx context.Context, msg *models.Message) error {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"content":           msg.Content,
			"encrypted_content": msg.EncryptedContent,
			"encryption_meta":   msg.EncryptionMeta,
			"is_encrypted":      msg.IsEncrypted,
			"is_edited":         true,
			"updated_at":        msg.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteMessage marks the message deleted. The row is kept.
func (s *Service) SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMessageRead appends a read receipt. It reports false when the user had
// already read the message.
func (s *Service) AddMessageRead(ctx context.Context, read models.MessageRead) (bool, error) {
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&read)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListMessages returns non-deleted messages of a chat, newest first.
func (s *Service) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Preload("ReadBy", func(db *gorm.DB) *gorm.DB { return db.Order("read_at ASC") }).
		Where("chat_id = ? AND is_deleted = ?", chatID, false).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error
	return msgs, err
}

func (s *Service) CountMessages(ctx context.Context, chatID string) (int64, error) {
	var total int64
	err := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("chat_id = ? AND is_deleted = ?", chatID, false).
		Count(&total).Error
	return total, err
}

// LatestMessages returns the most recent non-deleted message of every given
// chat, keyed by chat ID. Chats without messages are absent from the map.
func (s *Service) LatestMessages(ctx context.Context, chatIDs []string) (map[string]models.Message, error) {
	out := make(map[string]models.Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return out, nil
	}

	// DISTINCT ON keeps the first row of every chat_id group.
	var msgs []models.Message
	err := s.DB.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (chat_id) *
		FROM messages
		WHERE chat_id = ANY(?::uuid[]) AND is_deleted = false
		ORDER BY chat_id, created_at DESC, id DESC`,
		pq.Array(chatIDs),
	).Scan(&msgs).Error
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	var reads []models.MessageRead
	if err := s.DB.WithContext(ctx).
		Where("message_id IN ?", ids).
		Order("read_at ASC").
		Find(&reads).Error; err != nil {
		return nil, err
	}
	byMessage := make(map[string][]models.MessageRead, len(msgs))
	for _, r := range reads {
		byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
	}

	for _, m := range msgs {
		m.ReadBy = byMessage[m.ID]
		out[m.ChatID] = m
	}
	return out, nil
}
