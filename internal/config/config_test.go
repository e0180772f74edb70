package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	for _, key := range []string{"APP_MODE", "STORE_BACKEND", "PUSH_BACKEND", "TYPING_IDLE_TIMEOUT", "TYPING_PUSH_COOLDOWN", "FRIEND_REQUEST_GRACE", "DEBUG_ROUTES"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()

	assert.Equal(t, ModeAll, cfg.Server.Mode)
	assert.True(t, cfg.RunsGateway())
	assert.True(t, cfg.RunsDispatcher())
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, PushLog, cfg.Push.Backend)
	assert.Equal(t, 2*time.Second, cfg.Chat.TypingIdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Chat.TypingPushCooldown)
	assert.Equal(t, time.Second, cfg.Chat.FriendRequestGrace)
	assert.False(t, cfg.Server.DebugRoutes)
}

func TestOverrides(t *testing.T) {
	t.Setenv("APP_MODE", "Dispatcher")
	t.Setenv("STORE_BACKEND", "firestore")
	t.Setenv("PUSH_BACKEND", "fcm")
	t.Setenv("TYPING_IDLE_TIMEOUT", "500ms")
	t.Setenv("TYPING_PUSH_COOLDOWN", "45")
	t.Setenv("DEBUG_ROUTES", "true")
	cfg := FromEnv()

	assert.Equal(t, ModeDispatcher, cfg.Server.Mode)
	assert.False(t, cfg.RunsGateway())
	assert.True(t, cfg.RunsDispatcher())
	assert.Equal(t, StoreFirestore, cfg.Store.Backend)
	assert.Equal(t, PushFCM, cfg.Push.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.Chat.TypingIdleTimeout)
	assert.Equal(t, 45*time.Second, cfg.Chat.TypingPushCooldown)
	assert.True(t, cfg.Server.DebugRoutes)
}

func TestUnknownModeFallsBack(t *testing.T) {
	t.Setenv("APP_MODE", "sideways")
	t.Setenv("STORE_BACKEND", "mongo")
	cfg := FromEnv()
	assert.Equal(t, ModeAll, cfg.Server.Mode)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
}
