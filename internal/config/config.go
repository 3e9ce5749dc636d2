// Package config collects the runtime settings of the chat backend. Values come
// from the process environment (optionally seeded from a .env file by the
// binaries) and fall back to development defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the server binary needs at startup.
type Config struct {
	HTTPAddr string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EventBus selects where room fan-out is mirrored: "nats", "redis" or
	// "none". Empty picks nats when NATSURL is set and none otherwise.
	EventBus string
	NATSURL  string

	JWTSecret   string
	JWTIssuer   string
	AuthTimeout time.Duration

	EncryptionEnabled bool
	RetainPlaintext   bool
	EditWindow        time.Duration

	SendRateLimit  int
	SendRateWindow time.Duration
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DatabaseDSN:       getEnv("DATABASE_DSN", "host=localhost user=user password=password dbname=relaychat port=5432 sslmode=disable"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		EventBus:          os.Getenv("EVENT_BUS"),
		NATSURL:           os.Getenv("NATS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTIssuer:         getEnv("JWT_ISSUER", "relaychat"),
		AuthTimeout:       getDuration("AUTH_TIMEOUT", DefaultAuthTimeout),
		EncryptionEnabled: getBool("ENCRYPTION_ENABLED", true),
		RetainPlaintext:   getBool("RETAIN_PLAINTEXT", false),
		EditWindow:        getDuration("EDIT_WINDOW", DefaultEditWindow),
		SendRateLimit:     getInt("SEND_RATE_LIMIT", 20),
		SendRateWindow:    getDuration("SEND_RATE_WINDOW", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
