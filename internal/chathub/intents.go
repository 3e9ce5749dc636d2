package chathub

import (
	"encoding/json"
	"errors"
	"fmt"

	"relaychat/backend/internal/models"
)

var (
	// ErrMalformedFrame is returned for frames that are not {"event","data"} JSON.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownIntent is returned for frames naming no known intent.
	ErrUnknownIntent = errors.New("unknown intent")
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func decodeIntent[T models.Intent](raw json.RawMessage) (models.Intent, error) {
	var in T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	}
	return in, nil
}

// ParseIntent decodes one inbound frame into its intent type. It returns the
// frame's event name alongside errors so the caller can echo it.
func ParseIntent(data []byte) (models.Intent, string, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var (
		in  models.Intent
		err error
	)
	switch f.Event {
	case models.IntentJoinChat:
		in, err = decodeIntent[models.JoinChatIntent](f.Data)
	case models.IntentLeaveChat:
		in, err = decodeIntent[models.LeaveChatIntent](f.Data)
	case models.IntentSendMessage:
		in, err = decodeIntent[models.SendMessageIntent](f.Data)
	case models.IntentEditMessage:
		in, err = decodeIntent[models.EditMessageIntent](f.Data)
	case models.IntentDeleteMessage:
		in, err = decodeIntent[models.DeleteMessageIntent](f.Data)
	case models.IntentMarkRead:
		in, err = decodeIntent[models.MarkReadIntent](f.Data)
	case models.IntentTypingStart:
		in, err = decodeIntent[models.TypingStartIntent](f.Data)
	case models.IntentTypingStop:
		in, err = decodeIntent[models.TypingStopIntent](f.Data)
	case models.IntentUpdateStatus:
		in, err = decodeIntent[models.UpdateStatusIntent](f.Data)
	default:
		return nil, f.Event, fmt.Errorf("%w: %q", ErrUnknownIntent, f.Event)
	}
	return in, f.Event, err
}
