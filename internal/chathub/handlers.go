package chathub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"relaychat/backend/internal/chat"
	"relaychat/backend/internal/metrics"
	"relaychat/backend/internal/models"
)

// Presence statuses accepted by update_status.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// ErrRateLimited is returned when a user sends faster than the send rule
// allows.
var ErrRateLimited = errors.New("rate limit exceeded")

func validStatus(s string) bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// HandleFrame decodes one inbound frame and dispatches it. Undecodable frames
// get a private error event.
func (m *ManagerService) HandleFrame(ctx context.Context, client Client, data []byte) {
	intent, name, err := ParseIntent(data)
	if err != nil {
		log.Printf("WARNING: [chathub] Bad frame from connection %s (user %s): %v", client.GetConnID(), client.GetUserID(), err)
		metrics.IntentErrorsTotal.WithLabelValues("invalid").Inc()
		m.reply(client, models.ServerEvent{
			Event: models.EventError,
			Data:  models.ErrorPayload{Error: err.Error(), Event: name},
		})
		return
	}
	m.Dispatch(ctx, client, intent)
}

// Dispatch routes one decoded intent. Failures are reported privately to the
// originating connection and never affect other connections.
func (m *ManagerService) Dispatch(ctx context.Context, client Client, intent models.Intent) {
	defer metrics.ObserveIntent(intent.IntentName(), time.Now())

	switch in := intent.(type) {
	case models.JoinChatIntent:
		m.Join(ctx, client, in.ChatID)
	case models.LeaveChatIntent:
		m.Leave(ctx, client, in.ChatID)
	case models.SendMessageIntent:
		if _, err := m.SendMessageAs(ctx, client.GetUserID(), in.SendMessageRequest); err != nil {
			m.fail(client, in, models.EventMessageError, models.MessageErrorPayload{
				Error:       err.Error(),
				MessageData: in.SendMessageRequest,
			}, err)
		}
	case models.EditMessageIntent:
		if _, err := m.EditMessageAs(ctx, client.GetUserID(), in.MessageID, in.Content); err != nil {
			m.fail(client, in, models.EventEditError, models.MessageActionErrorPayload{
				Error:     err.Error(),
				MessageID: in.MessageID,
			}, err)
		}
	case models.DeleteMessageIntent:
		if _, err := m.DeleteMessageAs(ctx, client.GetUserID(), in.MessageID); err != nil {
			m.fail(client, in, models.EventDeleteError, models.MessageActionErrorPayload{
				Error:     err.Error(),
				MessageID: in.MessageID,
			}, err)
		}
	case models.MarkReadIntent:
		if _, err := m.MarkReadAs(ctx, client.GetUserID(), in.MessageID); err != nil {
			m.fail(client, in, models.EventError, models.ErrorPayload{
				Error: err.Error(),
				Event: in.IntentName(),
			}, err)
		}
	case models.TypingStartIntent:
		m.TypingStart(ctx, client, in.ChatID)
	case models.TypingStopIntent:
		m.TypingStop(ctx, client, in.ChatID)
	case models.UpdateStatusIntent:
		if err := m.UpdateStatus(ctx, client, in.Status); err != nil {
			m.fail(client, in, models.EventError, models.ErrorPayload{
				Error: err.Error(),
				Event: in.IntentName(),
			}, err)
		}
	default:
		log.Printf("ERROR: [chathub] No handler for intent %T", intent)
	}
}

func (m *ManagerService) fail(client Client, intent models.Intent, event string, payload any, err error) {
	metrics.IntentErrorsTotal.WithLabelValues(intent.IntentName()).Inc()
	log.Printf("WARNING: [chathub] %s from connection %s (user %s) failed: %v",
		intent.IntentName(), client.GetConnID(), client.GetUserID(), err)
	m.reply(client, models.ServerEvent{Event: event, Data: payload})
}

// Join adds the connection to a chat's room after checking that the user is
// an active participant. The joiner gets an acknowledgment; the other members
// are told only when this is the user's first connection in the room.
func (m *ManagerService) Join(ctx context.Context, client Client, chatID string) {
	userID := client.GetUserID()
	ack := func(err error) {
		payload := models.JoinedChatPayload{ChatID: chatID, Success: err == nil}
		if err != nil {
			payload.Error = err.Error()
			metrics.IntentErrorsTotal.WithLabelValues(models.IntentJoinChat).Inc()
		}
		m.reply(client, models.ServerEvent{Event: models.EventJoinedChat, Data: payload})
	}

	if strings.TrimSpace(chatID) == "" {
		ack(fmt.Errorf("%w: chatId is required", chat.ErrValidation))
		return
	}
	ok, err := m.Chats.IsActiveParticipant(ctx, chatID, userID)
	if err != nil {
		log.Printf("ERROR: [chathub] Participant check for %s in chat %s failed: %v", userID, chatID, err)
		ack(err)
		return
	}
	if !ok {
		ack(fmt.Errorf("%w: not an active participant of chat %s", chat.ErrAuthorization, chatID))
		return
	}

	already, userPresent := m.addToRoom(client, chatID)
	if !already {
		m.State.AddUserToRoom(ctx, chatID, userID)
		// A Disconnect that ran between addToRoom and the write above has
		// already cleared the store; undo the write it could not see.
		if !m.hasJoined(client, chatID) && !m.userInRoom(chatID, userID) {
			m.State.RemoveUserFromRoom(ctx, chatID, userID)
			return
		}
	}
	ack(nil)
	if already || userPresent {
		return
	}
	m.broadcast(ctx, chatID, models.ServerEvent{
		Event: models.EventUserJoined,
		Data:  models.MembershipPayload{UserID: userID, ChatID: chatID, Timestamp: m.now()},
	}, userID)
}

// Leave is the mirror of Join. It also clears the user's typing marker in
// the chat.
func (m *ManagerService) Leave(ctx context.Context, client Client, chatID string) {
	userID := client.GetUserID()
	was, last := m.removeFromRoom(client, chatID)
	if was {
		m.releaseRoom(ctx, chatID, userID, last)
	}
	m.reply(client, models.ServerEvent{
		Event: models.EventLeftChat,
		Data:  models.LeftChatPayload{ChatID: chatID, Success: was},
	})
}

// SendMessageAs is the single send path for socket and REST callers: it
// stores the message, fans it out to every connection in the room (the
// sender's included) and ends the sender's typing state.
func (m *ManagerService) SendMessageAs(ctx context.Context, userID string, req models.SendMessageRequest) (*models.Message, error) {
	if m.opts.Limiter != nil && !m.opts.Limiter.Allow(ctx, userID, m.opts.SendRule) {
		return nil, fmt.Errorf("%w: too many messages, slow down", ErrRateLimited)
	}

	msg, err := m.Chats.SendMessage(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	m.broadcast(ctx, msg.ChatID, models.ServerEvent{Event: models.EventMessageNew, Data: msg}, "")

	m.State.ClearTyping(ctx, msg.ChatID, userID)
	m.broadcast(ctx, msg.ChatID, models.ServerEvent{
		Event: models.EventTypingStopped,
		Data:  models.TypingPayload{UserID: userID, ChatID: msg.ChatID, Timestamp: m.now()},
	}, userID)
	return msg, nil
}

// EditMessageAs edits through the chat service and fans out the update.
func (m *ManagerService) EditMessageAs(ctx context.Context, userID, messageID, content string) (*models.Message, error) {
	msg, err := m.Chats.EditMessage(ctx, messageID, userID, content)
	if err != nil {
		return nil, err
	}
	m.broadcast(ctx, msg.ChatID, models.ServerEvent{Event: models.EventMessageUpdate, Data: msg}, "")
	return msg, nil
}

// DeleteMessageAs deletes through the chat service. The fan-out carries only
// the message and chat ids.
func (m *ManagerService) DeleteMessageAs(ctx context.Context, userID, messageID string) (*models.Message, error) {
	msg, err := m.Chats.DeleteMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	m.broadcast(ctx, msg.ChatID, models.ServerEvent{
		Event: models.EventMessageDelete,
		Data:  models.MessageDeletedPayload{MessageID: msg.ID, ChatID: msg.ChatID},
	}, "")
	return msg, nil
}

// MarkReadAs records a read receipt. The room only hears about receipts that
// were actually added.
func (m *ManagerService) MarkReadAs(ctx context.Context, userID, messageID string) (chat.ReadReceipt, error) {
	receipt, err := m.Chats.MarkMessageAsRead(ctx, messageID, userID)
	if err != nil {
		return chat.ReadReceipt{}, err
	}
	if receipt.Added {
		m.broadcast(ctx, receipt.ChatID, models.ServerEvent{
			Event: models.EventMessageRead,
			Data:  models.MessageReadPayload{MessageID: receipt.MessageID, UserID: userID, ReadAt: receipt.ReadAt},
		}, "")
	}
	return receipt, nil
}

func (m *ManagerService) hasJoined(client Client, chatID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.joined[client.GetConnID()][chatID]
}

// TypingStart marks the user as typing and tells the other members. Only a
// connection that joined the room may signal typing in it.
func (m *ManagerService) TypingStart(ctx context.Context, client Client, chatID string) {
	if !m.hasJoined(client, chatID) {
		log.Printf("WARNING: [chathub] Ignoring typing_start from connection %s: chat %s not joined", client.GetConnID(), chatID)
		return
	}
	userID := client.GetUserID()
	m.State.SetTyping(ctx, chatID, userID)
	m.broadcast(ctx, chatID, models.ServerEvent{
		Event: models.EventTypingStarted,
		Data:  models.TypingPayload{UserID: userID, ChatID: chatID, Timestamp: m.now()},
	}, userID)
}

func (m *ManagerService) TypingStop(ctx context.Context, client Client, chatID string) {
	if !m.hasJoined(client, chatID) {
		log.Printf("WARNING: [chathub] Ignoring typing_stop from connection %s: chat %s not joined", client.GetConnID(), chatID)
		return
	}
	userID := client.GetUserID()
	m.State.ClearTyping(ctx, chatID, userID)
	m.broadcast(ctx, chatID, models.ServerEvent{
		Event: models.EventTypingStopped,
		Data:  models.TypingPayload{UserID: userID, ChatID: chatID, Timestamp: m.now()},
	}, userID)
}

// UpdateStatus stores the connection's status as the user's presence and
// tells the other members of every room the connection joined.
func (m *ManagerService) UpdateStatus(ctx context.Context, client Client, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("%w: unknown status %q", chat.ErrValidation, status)
	}
	userID := client.GetUserID()
	connID := client.GetConnID()
	now := m.now()

	state := models.ConnectionState{UserID: userID, ConnID: connID, Status: status, ConnectedAt: now}
	if current := m.State.GetConnection(ctx, userID); current != nil && current.ConnID == connID {
		state.Metadata = current.Metadata
		state.ConnectedAt = current.ConnectedAt
	}
	m.State.SetConnection(ctx, state)

	event := models.ServerEvent{
		Event: models.EventUserStatusChanged,
		Data:  models.UserStatusPayload{UserID: userID, Status: status, Timestamp: now},
	}

	// A member sharing several rooms with the user hears it once.
	m.mu.RLock()
	rooms := make([]string, 0, len(m.joined[connID]))
	seen := make(map[string]bool)
	for chatID := range m.joined[connID] {
		rooms = append(rooms, chatID)
		for otherID, other := range m.rooms[chatID] {
			if other.GetUserID() == userID || seen[otherID] {
				continue
			}
			seen[otherID] = true
			deliver(other, event)
		}
	}
	m.mu.RUnlock()

	for _, chatID := range rooms {
		if err := m.opts.Publisher.Publish(ctx, chatID, event); err != nil {
			log.Printf("WARNING: [chathub] Failed to publish %s for chat %s: %v", event.Event, chatID, err)
		}
	}
	return nil
}

// RoomPresence is the live view of one chat.
type RoomPresence struct {
	ChatID string   `json:"chatId"`
	Online []string `json:"online"`
	Typing []string `json:"typing"`
}

// Presence reads the room membership and typing markers of a chat for an
// active participant.
func (m *ManagerService) Presence(ctx context.Context, userID, chatID string) (*RoomPresence, error) {
	ok, err := m.Chats.IsActiveParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: not an active participant of chat %s", chat.ErrAuthorization, chatID)
	}
	out := &RoomPresence{
		ChatID: chatID,
		Online: m.State.GetRoomParticipants(ctx, chatID),
		Typing: m.State.GetTypingUsers(ctx, chatID),
	}
	if out.Online == nil {
		out.Online = []string{}
	}
	if out.Typing == nil {
		out.Typing = []string{}
	}
	return out, nil
}
