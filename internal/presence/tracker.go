// Package presence records whether a user has a conversation open and lets
// the other participant follow it.
package presence

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/models"
)

// Lifecycle is a view or app transition reported by a client.
type Lifecycle string

const (
	Appear     Lifecycle = "appear"
	Disappear  Lifecycle = "disappear"
	Foreground Lifecycle = "foreground"
	Background Lifecycle = "background"
	Inactive   Lifecycle = "inactive"
)

// InChat maps a transition to the presence value it implies.
func (l Lifecycle) InChat() (bool, bool) {
	switch l {
	case Appear, Foreground:
		return true, true
	case Disappear, Background, Inactive:
		return false, true
	}
	return false, false
}

type Tracker struct {
	store docstore.Store
	log   zerolog.Logger
}

func NewTracker(store docstore.Store, log zerolog.Logger) *Tracker {
	return &Tracker{store: store, log: log.With().Str("component", "presence").Logger()}
}

// SetInChat upserts the caller's presence for thread. Repeating a value only
// refreshes lastSeen. Failures are logged; the error is returned for callers
// that want it, but UI flows ignore it.
func (t *Tracker) SetInChat(ctx context.Context, thread, userID string, inChat bool) error {
	err := t.store.Set(ctx, models.PresencePath(thread, userID), map[string]any{
		"inChat":   inChat,
		"lastSeen": docstore.ServerTimestamp,
	}, docstore.Merge())
	if err != nil {
		t.log.Warn().Err(err).Str("thread", thread).Str("user_id", userID).Bool("in_chat", inChat).Msg("presence write failed")
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// Apply records the presence implied by a lifecycle transition.
func (t *Tracker) Apply(ctx context.Context, thread, userID string, event Lifecycle) error {
	inChat, ok := event.InChat()
	if !ok {
		return fmt.Errorf("unknown lifecycle event %q", event)
	}
	return t.SetInChat(ctx, thread, userID, inChat)
}

// Subscribe streams the peer's presence in thread until ctx is done. Every
// value replaces the previous one; a missing record reads as not in chat.
func (t *Tracker) Subscribe(ctx context.Context, thread, peerID string) (<-chan models.Presence, error) {
	snaps, err := t.store.WatchDoc(ctx, models.PresencePath(thread, peerID))
	if err != nil {
		return nil, fmt.Errorf("watch presence: %w", err)
	}
	out := make(chan models.Presence)
	go func() {
		defer close(out)
		for snap := range snaps {
			p := models.Presence{UserID: peerID}
			if snap.Exists {
				p = models.PresenceFromDoc(snap.Doc)
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
