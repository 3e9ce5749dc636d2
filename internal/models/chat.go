package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatKind distinguishes one-to-one conversations from multi-member ones.
type ChatKind string

const (
	ChatDirect  ChatKind = "direct"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
)

// Valid reports whether k is one of the known chat kinds.
func (k ChatKind) Valid() bool {
	switch k {
	case ChatDirect, ChatGroup, ChatChannel:
		return true
	}
	return false
}

// Chat is a conversation. A direct chat always has exactly two participants
// and at most one exists per unordered pair of users.
type Chat struct {
	ID          string   `gorm:"type:uuid;primaryKey" json:"id"`
	Kind        ChatKind `gorm:"type:text;not null;index" json:"type"`
	Name        *string  `gorm:"size:100" json:"name,omitempty"`
	Description *string  `gorm:"type:text" json:"description,omitempty"`
	IsPrivate   bool     `gorm:"not null;default:false" json:"isPrivate"`
	// DirectKey is the sorted "userA|userB" pair of a direct chat. Its unique
	// index stops two concurrent creations from producing duplicates.
	DirectKey *string `gorm:"uniqueIndex" json:"-"`
	// EncryptionKey is the per-chat symmetric key. It never leaves the server
	// and is deliberately not serialized (so it is never cached either).
	EncryptionKey    string     `gorm:"type:text" json:"-"`
	ParticipantCount int        `gorm:"not null;default:0" json:"participantCount"`
	LastMessageAt    *time.Time `gorm:"index" json:"lastMessageAt,omitempty"`
	CreatedBy        string     `gorm:"type:text;not null" json:"createdBy"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the chat has no ID yet.
func (c *Chat) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// DirectChatKey returns the order-independent key of a direct chat between
// two users.
func DirectChatKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

// ParticipantRole is the privilege level of a participant inside one chat.
type ParticipantRole string

const (
	RoleAdmin     ParticipantRole = "admin"
	RoleModerator ParticipantRole = "moderator"
	RoleMember    ParticipantRole = "member"
)

// Valid reports whether r is one of the known roles.
func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// Participant links a user to a chat. Only one row exists per (chat, user);
// a blocked participant keeps its row but loses send and read access.
type Participant struct {
	ID                string          `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID            string          `gorm:"type:uuid;not null;uniqueIndex:idx_participant_chat_user" json:"chatId"`
	UserID            string          `gorm:"type:text;not null;uniqueIndex:idx_participant_chat_user;index" json:"userId"`
	Role              ParticipantRole `gorm:"type:text;not null;default:'member'" json:"role"`
	JoinedAt          time.Time       `json:"joinedAt"`
	LastReadMessageID *string         `gorm:"type:uuid" json:"lastReadMessageId,omitempty"`
	IsBlocked         bool            `gorm:"not null;default:false" json:"isBlocked"`
}

// BeforeCreate assigns a UUID and the join timestamp when missing.
func (p *Participant) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	return
}

// CreateChatRequest is the input of chat creation. ParticipantIDs lists the
// other users; the creator is always added as admin.
type CreateChatRequest struct {
	Type           ChatKind `json:"type"`
	Name           *string  `json:"name,omitempty"`
	Description    *string  `json:"description,omitempty"`
	IsPrivate      bool     `json:"isPrivate"`
	ParticipantIDs []string `json:"participantIds"`
}

// ChatSummary is a chat as listed for one user, with its most recent
// non-deleted message.
type ChatSummary struct {
	Chat
	LastMessage *Message `json:"lastMessage,omitempty"`
}
