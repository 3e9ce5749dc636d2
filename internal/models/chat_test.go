package models_test

import (
	"testing"
	"time"

	"relaychat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// TestBeforeCreate_GeneratesUUID verifies that the hooks populate IDs.
func TestBeforeCreate_GeneratesUUID(t *testing.T) {
	chat := &models.Chat{Kind: models.ChatGroup}
	msg := &models.Message{Type: models.MessageText}
	participant := &models.Participant{UserID: "user_A"}

	assert.NoError(t, chat.BeforeCreate(nil)) // nil *gorm.DB is acceptable for these hooks
	assert.NoError(t, msg.BeforeCreate(nil))
	assert.NoError(t, participant.BeforeCreate(nil))

	for _, id := range []string{chat.ID, msg.ID, participant.ID} {
		parsed, err := uuid.Parse(id)
		assert.NoError(t, err, "ID must be a valid UUID string")
		assert.NotEqual(t, uuid.Nil, parsed)
	}
	assert.False(t, participant.JoinedAt.IsZero(), "JoinedAt should be stamped")
}

// TestBeforeCreate_PreservesExistingID verifies that the hook doesn't overwrite an existing ID.
func TestBeforeCreate_PreservesExistingID(t *testing.T) {
	existingID := uuid.New().String()
	chat := &models.Chat{ID: existingID}

	assert.NoError(t, chat.BeforeCreate(nil))
	assert.Equal(t, existingID, chat.ID)
}

func TestEnumsValidate(t *testing.T) {
	assert.True(t, models.ChatDirect.Valid())
	assert.False(t, models.ChatKind("room").Valid())
	assert.True(t, models.RoleModerator.Valid())
	assert.False(t, models.ParticipantRole("owner").Valid())
	assert.True(t, models.MessageAudio.Valid())
	assert.False(t, models.MessageType("sticker").Valid())

	assert.True(t, models.MessageImage.NeedsFile())
	assert.False(t, models.MessageText.NeedsFile())
}

func TestMessageReadHelpers(t *testing.T) {
	readAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := models.Message{ReadBy: []models.MessageRead{{UserID: "user_A", ReadAt: readAt}}}

	at, ok := msg.ReadAt("user_A")
	assert.True(t, ok)
	assert.Equal(t, readAt, at)
	_, ok = msg.ReadAt("user_B")
	assert.False(t, ok)
}

func TestPaginationNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   models.Pagination
		want models.Pagination
	}{
		{"zero values", models.Pagination{}, models.Pagination{Page: 1, Limit: 50}},
		{"limit too large", models.Pagination{Page: 2, Limit: 1000}, models.Pagination{Page: 2, Limit: 100}},
		{"negative page", models.Pagination{Page: -3, Limit: 10}, models.Pagination{Page: 1, Limit: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
	assert.Equal(t, 20, models.Pagination{Page: 3, Limit: 10}.Offset())
}

func TestNewPage_TotalPages(t *testing.T) {
	page := models.NewPage[int](nil, 21, models.Pagination{Page: 1, Limit: 10})

	assert.Equal(t, 3, page.TotalPages)
	assert.NotNil(t, page.Items, "items must serialize as an empty list")
	assert.Equal(t, int64(21), page.Total)
}
