package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageImage  MessageType = "image"
	MessageVideo  MessageType = "video"
	MessageAudio  MessageType = "audio"
	MessageSystem MessageType = "system"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageFile, MessageImage, MessageVideo, MessageAudio, MessageSystem:
		return true
	}
	return false
}

// NeedsFile reports whether messages of this type must reference a file.
func (t MessageType) NeedsFile() bool {
	switch t {
	case MessageFile, MessageImage, MessageVideo, MessageAudio:
		return true
	}
	return false
}

// Message is a chat message. Deletion only sets IsDeleted; the row and its ID
// stay valid for event correlation.
type Message struct {
	ID       string      `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID   string      `gorm:"type:uuid;not null;index:idx_message_chat_created,priority:1" json:"chatId"`
	SenderID string      `gorm:"type:text;not null;index" json:"senderId"`
	Type     MessageType `gorm:"type:text;not null" json:"type"`
	Content  string      `gorm:"type:text" json:"content"`
	FileID   *string     `gorm:"type:text" json:"fileId,omitempty"`

	// IsEncrypted marks messages carrying an envelope. The ciphertext and its
	// iv/tag/algorithm metadata are server-side only.
	IsEncrypted      bool              `gorm:"not null;default:false" json:"isEncrypted"`
	EncryptedContent string            `gorm:"type:text" json:"-"`
	EncryptionMeta   datatypes.JSONMap `gorm:"type:jsonb" json:"-"`

	ReplyToID *string `gorm:"type:uuid;index" json:"replyToId,omitempty"`
	IsEdited  bool    `gorm:"not null;default:false" json:"isEdited"`
	IsDeleted bool    `gorm:"not null;default:false;index" json:"isDeleted"`

	ReadBy []MessageRead `gorm:"foreignKey:MessageID" json:"readBy"`

	// Undecryptable is set on read paths when the envelope could not be opened;
	// Content is empty in that case.
	Undecryptable bool `gorm:"-" json:"undecryptable,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_message_chat_created,priority:2" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the message has no ID yet.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// ReadAt returns the read timestamp of userID, if any.
func (m *Message) ReadAt(userID string) (time.Time, bool) {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return r.ReadAt, true
		}
	}
	return time.Time{}, false
}

// MessageRead is one read receipt. The composite primary key keeps the list
// at one entry per user; rows are only ever inserted.
type MessageRead struct {
	MessageID string    `gorm:"type:uuid;primaryKey" json:"-"`
	UserID    string    `gorm:"type:text;primaryKey" json:"userId"`
	ReadAt    time.Time `gorm:"not null" json:"readAt"`
}

// SendMessageRequest is the shared input of the socket and REST send paths.
type SendMessageRequest struct {
	ChatID    string      `json:"chatId"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	FileID    *string     `json:"fileId,omitempty"`
	ReplyToID *string     `json:"replyToId,omitempty"`
	Encrypt   bool        `json:"encrypt,omitempty"`
}
