package models

import "time"

// Client -> server intent names.
const (
	IntentJoinChat      = "join_chat"
	IntentLeaveChat     = "leave_chat"
	IntentSendMessage   = "send_message"
	IntentEditMessage   = "edit_message"
	IntentDeleteMessage = "delete_message"
	IntentMarkRead      = "mark_read"
	IntentTypingStart   = "typing_start"
	IntentTypingStop    = "typing_stop"
	IntentUpdateStatus  = "update_status"
)

// Server -> client event names.
const (
	EventJoinedChat        = "joined_chat"
	EventLeftChat          = "left_chat"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventMessageNew        = "message:new"
	EventMessageUpdate     = "message:update"
	EventMessageDelete     = "message:delete"
	EventMessageRead       = "message_read"
	EventTypingStarted     = "typing_started"
	EventTypingStopped     = "typing_stopped"
	EventMessageError      = "message_error"
	EventEditError         = "edit_error"
	EventDeleteError       = "delete_error"
	EventUserStatusChanged = "user_status_changed"
	EventError             = "error"
)

// Intent is one decoded client request. The set of implementations is closed:
// every intent type lives in this file and is handled by the gateway's switch.
type Intent interface {
	IntentName() string
}

type JoinChatIntent struct {
	ChatID string `json:"chatId"`
}

type LeaveChatIntent struct {
	ChatID string `json:"chatId"`
}

type SendMessageIntent struct {
	SendMessageRequest
}

type EditMessageIntent struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessageIntent struct {
	MessageID string `json:"messageId"`
}

type MarkReadIntent struct {
	MessageID string `json:"messageId"`
}

type TypingStartIntent struct {
	ChatID string `json:"chatId"`
}

type TypingStopIntent struct {
	ChatID string `json:"chatId"`
}

type UpdateStatusIntent struct {
	Status string `json:"status"`
}

func (JoinChatIntent) IntentName() string      { return IntentJoinChat }
func (LeaveChatIntent) IntentName() string     { return IntentLeaveChat }
func (SendMessageIntent) IntentName() string   { return IntentSendMessage }
func (EditMessageIntent) IntentName() string   { return IntentEditMessage }
func (DeleteMessageIntent) IntentName() string { return IntentDeleteMessage }
func (MarkReadIntent) IntentName() string      { return IntentMarkRead }
func (TypingStartIntent) IntentName() string   { return IntentTypingStart }
func (TypingStopIntent) IntentName() string    { return IntentTypingStop }
func (UpdateStatusIntent) IntentName() string  { return IntentUpdateStatus }

// ServerEvent is one outbound frame: {"event": "...", "data": {...}}.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type JoinedChatPayload struct {
	ChatID  string `json:"chatId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type LeftChatPayload struct {
	ChatID  string `json:"chatId"`
	Success bool   `json:"success"`
}

// MembershipPayload backs user_joined and user_left.
type MembershipPayload struct {
	UserID    string    `json:"userId"`
	ChatID    string    `json:"chatId"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingPayload backs typing_started and typing_stopped.
type TypingPayload struct {
	UserID    string    `json:"userId"`
	ChatID    string    `json:"chatId"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

type MessageReadPayload struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type MessageErrorPayload struct {
	Error       string             `json:"error"`
	MessageData SendMessageRequest `json:"messageData"`
}

// MessageActionErrorPayload backs edit_error and delete_error.
type MessageActionErrorPayload struct {
	Error     string `json:"error"`
	MessageID string `json:"messageId"`
}

type UserStatusPayload struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload is sent for frames that cannot be decoded or have no
// dedicated error event.
type ErrorPayload struct {
	Error string `json:"error"`
	Event string `json:"event,omitempty"`
}

// ConnectionState is the presence record of a user's latest connection.
type ConnectionState struct {
	UserID      string            `json:"userId"`
	ConnID      string            `json:"connId"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ConnectedAt time.Time         `json:"connectedAt"`
}
