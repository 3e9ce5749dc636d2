package config_test

import (
	"testing"
	"time"

	"relaychat/backend/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "NATS_URL", "EDIT_WINDOW", "ENCRYPTION_ENABLED", "REDIS_DB"} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.NATSURL, "event bus is disabled by default")
	assert.Equal(t, config.DefaultEditWindow, cfg.EditWindow)
	assert.True(t, cfg.EncryptionEnabled)
	assert.False(t, cfg.RetainPlaintext)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("EDIT_WINDOW", "2m")
	t.Setenv("ENCRYPTION_ENABLED", "false")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("AUTH_TIMEOUT", "250ms")

	cfg := config.Load()

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Minute, cfg.EditWindow)
	assert.False(t, cfg.EncryptionEnabled)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 250*time.Millisecond, cfg.AuthTimeout)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("EDIT_WINDOW", "soon")
	t.Setenv("REDIS_DB", "x")
	t.Setenv("ENCRYPTION_ENABLED", "maybe")

	cfg := config.Load()

	assert.Equal(t, config.DefaultEditWindow, cfg.EditWindow)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.True(t, cfg.EncryptionEnabled)
}
