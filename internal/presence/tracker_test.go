package presence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/identity"
	"nexchat-service/internal/models"
)

func next(t *testing.T, ch <-chan models.Presence) models.Presence {
	t.Helper()
	select {
	case p, ok := <-ch:
		require.True(t, ok)
		return p
	case <-time.After(time.Second):
		t.Fatal("no presence update")
	}
	return models.Presence{}
}

func TestSubscribeSeesLastWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := docstore.NewMemory(nil)
	tracker := NewTracker(store, zerolog.Nop())
	thread := identity.ThreadKey("a", "b")

	updates, err := tracker.Subscribe(ctx, thread, "b")
	require.NoError(t, err)
	assert.False(t, next(t, updates).InChat)

	require.NoError(t, tracker.SetInChat(ctx, thread, "b", true))
	assert.True(t, next(t, updates).InChat)

	require.NoError(t, tracker.Apply(ctx, thread, "b", Background))
	last := next(t, updates)
	assert.False(t, last.InChat)
	assert.False(t, last.LastSeen.IsZero())
}

func TestSetInChatIdempotent(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory(nil)
	tracker := NewTracker(store, zerolog.Nop())

	require.NoError(t, tracker.SetInChat(ctx, "a_b", "a", true))
	require.NoError(t, tracker.SetInChat(ctx, "a_b", "a", true))

	doc, err := store.Get(ctx, models.PresencePath("a_b", "a"))
	require.NoError(t, err)
	assert.True(t, docstore.Bool(doc.Fields, "inChat"))
}

func TestLifecycleMapping(t *testing.T) {
	for event, want := range map[Lifecycle]bool{
		Appear: true, Foreground: true, Disappear: false, Background: false, Inactive: false,
	} {
		got, ok := event.InChat()
		assert.True(t, ok)
		assert.Equal(t, want, got, string(event))
	}
	_, ok := Lifecycle("zoom").InChat()
	assert.False(t, ok)
	assert.Error(t, NewTracker(docstore.NewMemory(nil), zerolog.Nop()).Apply(context.Background(), "a_b", "a", "zoom"))
}
