package chathub_test

import (
	"context"
	"sync"

	"relaychat/backend/internal/cache"
	"relaychat/backend/internal/chat"
	"relaychat/backend/internal/models"
	"relaychat/backend/internal/ratelimit"

	"github.com/stretchr/testify/mock"
)

// MockChatService is a testify mock of chathub.ChatService.
type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) IsActiveParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockChatService) SendMessage(ctx context.Context, senderID string, req models.SendMessageRequest) (*models.Message, error) {
	args := m.Called(ctx, senderID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockChatService) EditMessage(ctx context.Context, messageID, userID, content string) (*models.Message, error) {
	args := m.Called(ctx, messageID, userID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockChatService) DeleteMessage(ctx context.Context, messageID, userID string) (*models.Message, error) {
	args := m.Called(ctx, messageID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockChatService) MarkMessageAsRead(ctx context.Context, messageID, userID string) (chat.ReadReceipt, error) {
	args := m.Called(ctx, messageID, userID)
	return args.Get(0).(chat.ReadReceipt), args.Error(1)
}

// recordingPublisher keeps every mirrored event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(_ context.Context, chatID string, event models.ServerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, chatID+":"+event.Event)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, ratelimit.Rule) bool { return false }

// hookedState wraps the live store. It panics while clearing typing in
// panicRoom, and runs beforeAdd once ahead of the first room write.
type hookedState struct {
	*cache.Service
	panicRoom string
	beforeAdd func()
}

func (s *hookedState) AddUserToRoom(ctx context.Context, chatID, userID string) {
	if hook := s.beforeAdd; hook != nil {
		s.beforeAdd = nil
		hook()
	}
	s.Service.AddUserToRoom(ctx, chatID, userID)
}

func (s *hookedState) ClearTyping(ctx context.Context, chatID, userID string) {
	if chatID == s.panicRoom {
		panic("typing store unavailable")
	}
	s.Service.ClearTyping(ctx, chatID, userID)
}
