package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/idempotency"
	"nexchat-service/internal/mocks"
	"nexchat-service/internal/models"
	"nexchat-service/internal/push"
	"nexchat-service/internal/telemetry"
	"nexchat-service/internal/triggers"
	"nexchat-service/internal/users"
)

type fixture struct {
	store *docstore.Memory
	clock *clockwork.FakeClock
	push  *mocks.PushSenderMock
	audit *mocks.PublisherMock
	disp  *Dispatcher
}

func newFixture(t *testing.T, guard idempotency.Guard) fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	store := docstore.NewMemory(clk)
	dir := users.NewDirectory(store)
	ctx := context.Background()
	require.NoError(t, dir.Create(ctx, models.User{ID: "a", Username: "ana", FCMToken: "tok-a"}))
	require.NoError(t, dir.Create(ctx, models.User{ID: "b", Username: "ben", FCMToken: "tok-b"}))
	require.NoError(t, dir.Create(ctx, models.User{ID: "c", Username: "cy"}))

	pushMock := &mocks.PushSenderMock{}
	audit := &mocks.PublisherMock{}
	audit.On("Publish", mock.Anything, "audit.nexchat", mock.Anything).Return(nil)

	disp := New(Deps{
		Store: store,
		Users: dir,
		Push:  pushMock,
		Guard: guard,
		Clock: clk,
		Audit: telemetry.NewAuditEmitter(audit, "audit.nexchat", "nexchat-service", "test", zerolog.Nop()),
		Log:   zerolog.Nop(),
	})
	return fixture{store: store, clock: clk, push: pushMock, audit: audit, disp: disp}
}

func notification(token, title, body string) any {
	return mock.MatchedBy(func(n push.Notification) bool {
		return n.Token == token && n.Title == title && n.Body == body && n.Sound == push.DefaultSound
	})
}

func typingEvent(id string, isTyping bool) triggers.Event {
	return triggers.Event{
		ID:   id,
		Kind: triggers.KindUpdate,
		Path: "typingIndicators/a_b",
		After: map[string]any{
			"senderID":   "a",
			"receiverID": "b",
			"isTyping":   isTyping,
		},
	}
}

func TestTypingCooldown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.push.On("Send", mock.Anything, notification("tok-b", "ana is typing...", "")).Return("m-1", nil)

	require.NoError(t, f.disp.Handle(ctx, typingEvent("e1", true)))
	f.clock.Advance(10 * time.Second)
	require.NoError(t, f.disp.Handle(ctx, typingEvent("e2", true)))
	f.clock.Advance(19 * time.Second)
	require.NoError(t, f.disp.Handle(ctx, typingEvent("e3", true)))
	f.push.AssertNumberOfCalls(t, "Send", 1)

	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.disp.Handle(ctx, typingEvent("e4", true)))
	f.push.AssertNumberOfCalls(t, "Send", 2)

	doc, err := f.store.Get(ctx, models.TypingNotificationPath("a_b"))
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), docstore.Time(doc.Fields, "lastNotificationTime"))
}

func TestTypingIgnoredWhenNotTypingOrDeleted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.disp.Handle(ctx, typingEvent("e1", false)))
	require.NoError(t, f.disp.Handle(ctx, triggers.Event{ID: "e2", Kind: triggers.KindDelete, Path: "typingIndicators/a_b"}))
	f.push.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	f.audit.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestPushFailureNotRetriedAndCooldownUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.push.On("Send", mock.Anything, mock.Anything).Return("", errors.New("unregistered token"))

	require.NoError(t, f.disp.Handle(ctx, typingEvent("e1", true)))
	f.push.AssertNumberOfCalls(t, "Send", 1)

	_, err := f.store.Get(ctx, models.TypingNotificationPath("a_b"))
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	f.audit.AssertCalled(t, "Publish", mock.Anything, "audit.nexchat", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Outcome == OutcomePushFailed
	}))
}

func TestMessageCreated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.push.On("Send", mock.Anything, notification("tok-b", "New Chat Message", "ana sent you a chat!")).Return("m-1", nil)

	ev := triggers.Event{
		ID:    "e1",
		Kind:  triggers.KindCreate,
		Path:  models.MessagePath("a_b", "m1"),
		After: map[string]any{"senderID": "a", "receiverID": "b", "content": "hi", "read": false},
	}
	require.NoError(t, f.disp.Handle(ctx, ev))
	f.push.AssertExpectations(t)

	// Receipt updates on the message are not new messages.
	ev.Kind = triggers.KindUpdate
	ev.ID = "e2"
	require.NoError(t, f.disp.Handle(ctx, ev))
	f.push.AssertNumberOfCalls(t, "Send", 1)
}

func TestRecipientWithoutTokenIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	ev := triggers.Event{
		ID:    "e1",
		Kind:  triggers.KindCreate,
		Path:  models.MessagePath("a_c", "m1"),
		After: map[string]any{"senderID": "a", "receiverID": "c", "content": "hi"},
	}
	require.NoError(t, f.disp.Handle(context.Background(), ev))

	missing := ev
	missing.After = map[string]any{"senderID": "ghost", "receiverID": "b"}
	require.NoError(t, f.disp.Handle(context.Background(), missing))
	f.push.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestFriendRequestCreatedOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.push.On("Send", mock.Anything, notification("tok-b", "New Friend Request", "ana sent you a friend request!")).Return("m-1", nil)

	ev := triggers.Event{
		ID:    "e1",
		Kind:  triggers.KindCreate,
		Path:  models.FriendRequestPath("r1"),
		After: map[string]any{"fromUserID": "a", "toUserID": "b", "status": "pending", "notified": false},
	}
	require.NoError(t, f.disp.Handle(ctx, ev))
	require.NoError(t, f.disp.Handle(ctx, ev))
	f.push.AssertNumberOfCalls(t, "Send", 1)

	records, err := f.store.Query(ctx, docstore.Query{Collection: models.NotificationsCollection}.Where("requestId", "r1"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := models.NotificationRecordFromDoc(records[0])
	assert.Equal(t, "b", rec.UserID)
	assert.Equal(t, models.NotificationTypeFriendRequest, rec.Type)
	assert.Equal(t, "m-1", rec.MessageID)
	assert.Equal(t, notificationID("r1"), rec.ID)
}

func TestFriendRequestAcceptedEdge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.push.On("Send", mock.Anything, notification("tok-a", "Friend Request Accepted", "ben accepted your friend request!")).Return("m-1", nil)

	require.NoError(t, f.store.Set(ctx, models.FriendRequestPath("r1"), map[string]any{
		"fromUserID": "a", "toUserID": "b", "status": "accepted", "notified": false,
	}))
	edge := triggers.Event{
		ID:     "e1",
		Kind:   triggers.KindUpdate,
		Path:   models.FriendRequestPath("r1"),
		Before: map[string]any{"fromUserID": "a", "toUserID": "b", "status": "pending", "notified": false},
		After:  map[string]any{"fromUserID": "a", "toUserID": "b", "status": "accepted", "notified": false},
	}
	require.NoError(t, f.disp.Handle(ctx, edge))

	doc, err := f.store.Get(ctx, models.FriendRequestPath("r1"))
	require.NoError(t, err)
	assert.True(t, docstore.Bool(doc.Fields, "notified"))

	// Redelivery sees notified=true on the stored request.
	require.NoError(t, f.disp.Handle(ctx, edge))

	// The notified write itself is accepted -> accepted.
	follow := edge
	follow.ID = "e2"
	follow.Before = edge.After
	follow.After = map[string]any{"fromUserID": "a", "toUserID": "b", "status": "accepted", "notified": true}
	require.NoError(t, f.disp.Handle(ctx, follow))

	rejected := edge
	rejected.ID = "e3"
	rejected.After = map[string]any{"fromUserID": "a", "toUserID": "b", "status": "rejected"}
	require.NoError(t, f.disp.Handle(ctx, rejected))

	f.push.AssertNumberOfCalls(t, "Send", 1)
}

func TestAcceptedAfterCleanupStillNotifies(t *testing.T) {
	f := newFixture(t, nil)
	f.push.On("Send", mock.Anything, mock.Anything).Return("m-1", nil)

	edge := triggers.Event{
		ID:     "e1",
		Kind:   triggers.KindUpdate,
		Path:   models.FriendRequestPath("gone"),
		Before: map[string]any{"fromUserID": "a", "toUserID": "b", "status": "pending"},
		After:  map[string]any{"fromUserID": "a", "toUserID": "b", "status": "accepted"},
	}
	require.NoError(t, f.disp.Handle(context.Background(), edge))
	f.push.AssertNumberOfCalls(t, "Send", 1)
}

func TestGuardDropsRedelivery(t *testing.T) {
	f := newFixture(t, idempotency.NewMemoryGuard(nil, time.Hour))
	ctx := context.Background()
	f.push.On("Send", mock.Anything, mock.Anything).Return("m-1", nil)

	ev := triggers.Event{
		ID:    "e1",
		Kind:  triggers.KindCreate,
		Path:  models.MessagePath("a_b", "m1"),
		After: map[string]any{"senderID": "a", "receiverID": "b"},
	}
	require.NoError(t, f.disp.Handle(ctx, ev))
	require.NoError(t, f.disp.Handle(ctx, ev))
	f.push.AssertNumberOfCalls(t, "Send", 1)
}

func TestGuardErrorFailsOpen(t *testing.T) {
	guard := &mocks.GuardMock{}
	guard.On("FirstSeen", mock.Anything, "trigger:e1").Return(false, errors.New("redis down"))
	f := newFixture(t, guard)
	f.push.On("Send", mock.Anything, mock.Anything).Return("m-1", nil)

	ev := triggers.Event{
		ID:    "e1",
		Kind:  triggers.KindCreate,
		Path:  models.MessagePath("a_b", "m1"),
		After: map[string]any{"senderID": "a", "receiverID": "b"},
	}
	require.NoError(t, f.disp.Handle(context.Background(), ev))
	f.push.AssertNumberOfCalls(t, "Send", 1)
	guard.AssertExpectations(t)
}

func TestUnroutedEventIgnored(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.disp.Handle(context.Background(), triggers.Event{ID: "x", Kind: triggers.KindCreate, Path: "users/a"}))
	f.push.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestTypingCooldownAcceptsJSONTimestamps(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.push.On("Send", mock.Anything, mock.Anything).Return("m-1", nil)
	require.NoError(t, f.store.Set(ctx, models.TypingNotificationPath("a_b"), map[string]any{
		"lastNotificationTime": f.clock.Now().Add(-5 * time.Second).Format(time.RFC3339Nano),
	}))

	require.NoError(t, f.disp.Handle(ctx, typingEvent("e1", true)))
	f.push.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
