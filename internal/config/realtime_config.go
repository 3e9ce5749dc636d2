package config

import "time"

const (
	// Cache
	ChatCacheTTL    = 1 * time.Hour
	MessageCacheTTL = 30 * time.Minute

	// Live state
	RoomMembershipTTL   = 2 * time.Minute
	RoomRefreshInterval = 30 * time.Second
	PresenceTTL         = 2 * time.Minute
	TypingTTL           = 5 * time.Second

	// Messages
	DefaultEditWindow = 15 * time.Minute
	MaxContentLength  = 10000

	// Pagination
	DefaultPageLimit = 50
	MaxPageLimit     = 100

	// Gateway
	DefaultAuthTimeout   = 5 * time.Second
	ClientSendBufferSize = 256
	CleanupTimeout       = 5 * time.Second
)
