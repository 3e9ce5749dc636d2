package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relaychat/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a chat, participant or message row does
	// not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
)

// Repository is the durable store of chats, participants, messages and read
// receipts.
type Repository interface {
	CreateChat(ctx context.Context, chat *models.Chat, participants []models.Participant) error
	FindDirectChat(ctx context.Context, userA, userB string) (*models.Chat, error)
	GetChatByID(ctx context.Context, chatID string) (*models.Chat, error)
	TouchChat(ctx context.Context, chatID string, at time.Time) error
	ListUserChats(ctx context.Context, userID string, limit, offset int) ([]models.Chat, error)
	CountUserChats(ctx context.Context, userID string) (int64, error)

	GetParticipant(ctx context.Context, chatID, userID string) (*models.Participant, error)
	IsActiveParticipant(ctx context.Context, chatID, userID string) (bool, error)
	AddParticipants(ctx context.Context, chatID string, participants []models.Participant) error
	UpdateParticipant(ctx context.Context, chatID, userID string, updates map[string]interface{}) error
	AdvanceReadPointer(ctx context.Context, chatID, userID, messageID string) error

	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessageByID(ctx context.Context, messageID string) (*models.Message, error)
	UpdateMessageContent(ctx context.Context, msg *models.Message) error
	SoftDeleteMessage(ctx context.Context, messageID string, at time.Time) error
	AddMessageRead(ctx context.Context, read models.MessageRead) (bool, error)
	ListMessages(ctx context.Context, chatID string, limit, offset int) ([]models.Message, error)
	CountMessages(ctx context.Context, chatID string) (int64, error)
	LatestMessages(ctx context.Context, chatIDs []string) (map[string]models.Message, error)
}

// Service is the PostgreSQL implementation of Repository.
type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// Migrate creates or updates the tables of every persisted model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Chat{},
		&models.Participant{},
		&models.Message{},
		&models.MessageRead{},
	)
}

// translate maps gorm errors onto the package sentinels. The connection must
// be opened with gorm.Config{TranslateError: true} for duplicates to surface.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// CreateChat stores the chat and its initial participants in one
// transaction. ParticipantCount is set from the participant list.
func (s *Service) CreateChat(ctx context.Context, chat *models.Chat, participants []models.Participant) error {
	chat.ParticipantCount = len(participants)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chat).Error; err != nil {
			return err
		}
		for i := range participants {
			participants[i].ChatID = chat.ID
		}
		if len(participants) == 0 {
			return nil
		}
		return tx.Create(&participants).Error
	})
	return translate(err)
}

// FindDirectChat returns the direct chat whose participants are exactly the
// two users, or ErrNotFound.
func (s *Service) FindDirectChat(ctx context.Context, userA, userB string) (*models.Chat, error) {
	var chats []models.Chat
	err := s.DB.WithContext(ctx).
		Select("chats.*").
		Joins("JOIN participants ON participants.chat_id = chats.id").
		Where("chats.kind = ?", models.ChatDirect).
		Where("participants.user_id IN ?", []string{userA, userB}).
		Group("chats.id").
		Having("COUNT(DISTINCT participants.user_id) = ?", 2).
		Limit(1).
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, ErrNotFound
	}
	return &chats[0], nil
}

func (s *Service) GetChatByID(ctx context.Context, chatID string) (*models.Chat, error) {
	var chat models.Chat
	if err := s.DB.WithContext(ctx).Where("id = ?", chatID).First(&chat).Error; err != nil {
		return nil, translate(err)
	}
	return &chat, nil
}

// TouchChat records a new message time on the chat.
func (s *Service) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]interface{}{
			"last_message_at": at,
			"updated_at":      at,
		}).Error
}

// userChats selects chats where the user is a non-blocked participant.
func (s *Service) userChats(ctx context.Context, userID string) *gorm.DB {
	return s.DB.WithContext(ctx).Model(&models.Chat{}).
		Joins("JOIN participants ON participants.chat_id = chats.id").
		Where("participants.user_id = ? AND participants.is_blocked = ?", userID, false)
}

// ListUserChats returns one page of the user's chats, most recently active
// first. Chats without messages sort after the rest by creation time.
func (s *Service) ListUserChats(ctx context.Context, userID string, limit, offset int) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.userChats(ctx, userID).
		Select("chats.*").
		Order("chats.last_message_at DESC NULLS LAST").
		Order("chats.created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&chats).Error
	return chats, err
}

func (s *Service) CountUserChats(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.userChats(ctx, userID).Count(&total).Error
	return total, err
}

func (s *Service) GetParticipant(ctx context.Context, chatID, userID string) (*models.Participant, error) {
	var p models.Participant
	err := s.DB.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// IsActiveParticipant reports whether the user has a non-blocked participant
// row in the chat.
func (s *Service) IsActiveParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("chat_id = ? AND user_id = ? AND is_blocked = ?", chatID, userID, false).
		Count(&count).Error
	return count > 0, err
}

// AddParticipants inserts new participant rows and bumps ParticipantCount by
// the number actually added. Users already in the chat are skipped.
func (s *Service) AddParticipants(ctx context.Context, chatID string, participants []models.Participant) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		added := 0
		for i := range participants {
			participants[i].ChatID = chatID
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participants[i])
			if res.Error != nil {
				return res.Error
			}
			added += int(res.RowsAffected)
		}
		if added == 0 {
			return nil
		}
		return tx.Model(&models.Chat{}).
			Where("id = ?", chatID).
			Update("participant_count", gorm.Expr("participant_count + ?", added)).Error
	})
	return translate(err)
}

// UpdateParticipant applies column updates (role, is_blocked) to one row.
func (s *Service) UpdateParticipant(ctx context.Context, chatID, userID string, updates map[string]interface{}) error {
	res := s.DB.WithContext(ctx).Model(&models.Participant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceReadPointer moves the participant's last-read message forward. A
// pointer that already references a newer message is left alone.
func (s *Service) AdvanceReadPointer(ctx context.Context, chatID, userID, messageID string) error {
	return s.DB.WithContext(ctx).Exec(`
		UPDATE participants SET last_read_message_id = ?
		WHERE chat_id = ? AND user_id = ?
		  AND (last_read_message_id IS NULL
		       OR (SELECT created_at FROM messages WHERE id = participants.last_read_message_id)
		          <= (SELECT created_at FROM messages WHERE id = ?))`,
		messageID, chatID, userID, messageID,
	).Error
}
