package friends

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/models"
	"nexchat-service/internal/repositories"
	"nexchat-service/internal/users"
)

type fixture struct {
	store *docstore.Memory
	clock *clockwork.FakeClock
	users *users.Directory
	wf    *Workflow
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	store := docstore.NewMemory(clk)
	dir := users.NewDirectory(store)
	for _, u := range []models.User{{ID: "a", Username: "ana"}, {ID: "b", Username: "ben"}, {ID: "c", Username: "cy"}} {
		require.NoError(t, dir.Create(context.Background(), u))
	}
	return fixture{store: store, clock: clk, users: dir, wf: NewWorkflow(store, dir, clk, DefaultGrace, zerolog.Nop())}
}

// assertRemoved waits for the cleanup callback, which runs on its own goroutine.
func assertRemoved(t *testing.T, wf *Workflow, requestID string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		_, err := wf.Get(context.Background(), requestID)
		return errors.Is(err, ErrRequestNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestAcceptMakesMutualFriendsThenDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.wf.Send(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestPending, req.Status)

	accepted, err := f.wf.Accept(ctx, req.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestAccepted, accepted.Status)

	for id, friend := range map[string]string{"a": "b", "b": "a"} {
		friends, err := f.users.Friends(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, friends, friend)
	}

	// Still visible during the grace delay so triggers can see the edge.
	stored, err := f.wf.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestAccepted, stored.Status)

	f.clock.Advance(DefaultGrace)
	assertRemoved(t, f.wf, req.ID)
}

func TestRejectDeletesWithoutFriendship(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.wf.Send(ctx, "a", "b")
	require.NoError(t, err)

	_, err = f.wf.Reject(ctx, req.ID, "b")
	require.NoError(t, err)

	_, err = f.wf.Accept(ctx, req.ID, "b")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	friends, err := f.users.Friends(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, friends)

	f.clock.Advance(2 * DefaultGrace)
	assertRemoved(t, f.wf, req.ID)
}

func TestSendGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wf.Send(ctx, "a", "a")
	assert.ErrorIs(t, err, ErrSelfRequest)

	_, err = f.wf.Send(ctx, "a", "ghost")
	assert.ErrorIs(t, err, users.ErrUserNotFound)

	_, err = f.wf.Send(ctx, "a", "b")
	require.NoError(t, err)
	_, err = f.wf.Send(ctx, "a", "b")
	assert.ErrorIs(t, err, ErrRequestExists)
	_, err = f.wf.Send(ctx, "b", "a")
	assert.ErrorIs(t, err, ErrRequestExists)

	require.NoError(t, f.users.AddFriend(ctx, "c", "a"))
	_, err = f.wf.Send(ctx, "a", "c")
	assert.ErrorIs(t, err, ErrAlreadyFriends)
}

func TestAnswerGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.wf.Send(ctx, "a", "b")
	require.NoError(t, err)

	_, err = f.wf.Accept(ctx, req.ID, "a")
	assert.ErrorIs(t, err, ErrNotRecipient)
	_, err = f.wf.Accept(ctx, "missing", "b")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	_, err = f.wf.Accept(ctx, req.ID, "b")
	require.NoError(t, err)
	again, err := f.wf.Accept(ctx, req.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestAccepted, again.Status)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, f.clock.BlockUntilContext(waitCtx, 1), "expected a single cleanup timer")
}

type failAddFriend struct {
	docstore.Store
	userPath string
}

func (s failAddFriend) Update(ctx context.Context, path string, fields map[string]any) error {
	if path == s.userPath {
		return errors.New("unavailable")
	}
	return s.Store.Update(ctx, path, fields)
}

func TestAcceptToleratesOneSidedFriendUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := failAddFriend{Store: f.store, userPath: models.UserPath("a")}
	wf := NewWorkflow(flaky, users.NewDirectory(flaky), f.clock, DefaultGrace, zerolog.Nop())

	req, err := wf.Send(ctx, "a", "b")
	require.NoError(t, err)
	_, err = wf.Accept(ctx, req.ID, "b")
	require.NoError(t, err)

	bFriends, err := f.users.Friends(ctx, "b")
	require.NoError(t, err)
	assert.Contains(t, bFriends, "a")
	aFriends, err := f.users.Friends(ctx, "a")
	require.NoError(t, err)
	assert.NotContains(t, aFriends, "b")
}

func TestRelation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rel, err := f.wf.Relation(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, RelationNone, rel)

	req, err := f.wf.Send(ctx, "a", "b")
	require.NoError(t, err)
	rel, _ = f.wf.Relation(ctx, "a", "b")
	assert.Equal(t, RelationOutgoingPending, rel)
	rel, _ = f.wf.Relation(ctx, "b", "a")
	assert.Equal(t, RelationIncomingPending, rel)

	incoming, err := f.wf.Incoming(ctx, "b")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, req.ID, incoming[0].ID)

	_, err = f.wf.Accept(ctx, req.ID, "b")
	require.NoError(t, err)
	rel, _ = f.wf.Relation(ctx, "b", "a")
	assert.Equal(t, RelationFriends, rel)
}

func TestCloseCancelsCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.wf.Send(ctx, "a", "b")
	require.NoError(t, err)
	_, err = f.wf.Reject(ctx, req.ID, "b")
	require.NoError(t, err)

	f.wf.Close()
	f.clock.Advance(time.Minute)
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(waitCtx, 0))
	_, err = f.wf.Get(ctx, req.ID)
	assert.NoError(t, err)
}

func recvPopup(t *testing.T, ch <-chan Popup) Popup {
	t.Helper()
	select {
	case p, ok := <-ch:
		require.True(t, ok)
		return p
	case <-time.After(time.Second):
		t.Fatal("no popup")
	}
	return Popup{}
}

func assertNoPopup(t *testing.T, ch <-chan Popup) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("unexpected popup for %s", p.Request.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPopupShownOncePerRequest(t *testing.T) {
	f := newFixture(t)
	surfaced := repositories.NewMemoryLocalState()
	watcher := NewPopupWatcher(f.store, f.users, surfaced, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	popups, err := watcher.Watch(ctx, "b")
	require.NoError(t, err)

	req, err := f.wf.Send(context.Background(), "a", "b")
	require.NoError(t, err)
	p := recvPopup(t, popups)
	assert.Equal(t, req.ID, p.Request.ID)
	assert.Equal(t, "ana", p.FromUsername)
	p.Shown(context.Background())
	cancel()

	// A new session replays the pending request as an initial add.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	again, err := watcher.Watch(ctx2, "b")
	require.NoError(t, err)
	assertNoPopup(t, again)

	other, err := f.wf.Send(context.Background(), "c", "b")
	require.NoError(t, err)
	assert.Equal(t, other.ID, recvPopup(t, again).Request.ID)
}

func TestUndeliveredPopupIsShownNextSession(t *testing.T) {
	f := newFixture(t)
	surfaced := repositories.NewMemoryLocalState()
	watcher := NewPopupWatcher(f.store, f.users, surfaced, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := watcher.Watch(ctx, "b")
	require.NoError(t, err)
	req, err := f.wf.Send(context.Background(), "a", "b")
	require.NoError(t, err)
	// The session ends before the popup reaches the client.
	time.Sleep(20 * time.Millisecond)
	cancel()

	seen, err := surfaced.IsSurfaced(context.Background(), "b", req.ID)
	require.NoError(t, err)
	assert.False(t, seen)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	again, err := watcher.Watch(ctx2, "b")
	require.NoError(t, err)
	p := recvPopup(t, again)
	assert.Equal(t, req.ID, p.Request.ID)

	p.Shown(ctx2)
	seen, err = surfaced.IsSurfaced(context.Background(), "b", req.ID)
	require.NoError(t, err)
	assert.True(t, seen)
}

type failingSurfaced struct{}

func (failingSurfaced) IsSurfaced(context.Context, string, string) (bool, error) {
	return false, errors.New("unavailable")
}

func (failingSurfaced) MarkSurfaced(context.Context, string, string) (bool, error) {
	return false, errors.New("unavailable")
}

func TestPopupShownWhenSurfacedSetFails(t *testing.T) {
	f := newFixture(t)
	watcher := NewPopupWatcher(f.store, f.users, failingSurfaced{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	popups, err := watcher.Watch(ctx, "b")
	require.NoError(t, err)

	req, err := f.wf.Send(context.Background(), "a", "b")
	require.NoError(t, err)
	p := recvPopup(t, popups)
	assert.Equal(t, req.ID, p.Request.ID)
	p.Shown(ctx)
}
