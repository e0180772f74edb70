// Package friends implements the friend request lifecycle:
// pending -> accepted -> deleted, or pending -> rejected -> deleted.
package friends

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/identity"
	"nexchat-service/internal/models"
	"nexchat-service/internal/users"
)

const DefaultGrace = time.Second

const cleanupTimeout = 5 * time.Second

var (
	ErrSelfRequest       = errors.New("cannot send a friend request to yourself")
	ErrAlreadyFriends    = errors.New("users are already friends")
	ErrRequestExists     = errors.New("a pending friend request already exists")
	ErrRequestNotFound   = errors.New("friend request not found")
	ErrNotRecipient      = errors.New("only the recipient can answer a friend request")
	ErrInvalidTransition = errors.New("friend request already answered")
)

// Relation is how one user stands with another, as shown on profile cards.
type Relation string

const (
	RelationNone            Relation = "none"
	RelationFriends         Relation = "friends"
	RelationOutgoingPending Relation = "outgoing_pending"
	RelationIncomingPending Relation = "incoming_pending"
)

type Workflow struct {
	store docstore.Store
	users *users.Directory
	clock clockwork.Clock
	grace time.Duration
	log   zerolog.Logger

	mu       sync.Mutex
	cleanups map[string]clockwork.Timer
}

func NewWorkflow(store docstore.Store, dir *users.Directory, clk clockwork.Clock, grace time.Duration, log zerolog.Logger) *Workflow {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Workflow{
		store:    store,
		users:    dir,
		clock:    clk,
		grace:    grace,
		log:      log.With().Str("component", "friends").Logger(),
		cleanups: make(map[string]clockwork.Timer),
	}
}

// Send creates a pending request. The duplicate check reads before writing
// and is therefore advisory: two concurrent sends can both succeed.
func (w *Workflow) Send(ctx context.Context, fromID, toID string) (models.FriendRequest, error) {
	if err := identity.Validate(fromID); err != nil {
		return models.FriendRequest{}, err
	}
	if err := identity.Validate(toID); err != nil {
		return models.FriendRequest{}, err
	}
	if fromID == toID {
		return models.FriendRequest{}, ErrSelfRequest
	}

	recipient, err := w.users.Get(ctx, toID)
	if err != nil {
		return models.FriendRequest{}, err
	}
	if recipient.HasFriend(fromID) {
		return models.FriendRequest{}, ErrAlreadyFriends
	}
	for _, pair := range [][2]string{{fromID, toID}, {toID, fromID}} {
		existing, err := w.pending(ctx, pair[0], pair[1])
		if err != nil {
			return models.FriendRequest{}, err
		}
		if len(existing) > 0 {
			return models.FriendRequest{}, ErrRequestExists
		}
	}

	id := uuid.NewString()
	err = w.store.Set(ctx, models.FriendRequestPath(id), map[string]any{
		"fromUserID": fromID,
		"toUserID":   toID,
		"status":     string(models.FriendRequestPending),
		"notified":   false,
		"createdAt":  docstore.ServerTimestamp,
	})
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("create friend request: %w", err)
	}
	return w.Get(ctx, id)
}

func (w *Workflow) Get(ctx context.Context, requestID string) (models.FriendRequest, error) {
	doc, err := w.store.Get(ctx, models.FriendRequestPath(requestID))
	if errors.Is(err, docstore.ErrNotFound) {
		return models.FriendRequest{}, ErrRequestNotFound
	}
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("get friend request: %w", err)
	}
	return models.FriendRequestFromDoc(doc), nil
}

// Accept marks the request accepted, adds each user to the other's friends
// and deletes the request after the grace delay. The two friend list updates
// are independent; a failure is logged and the other update is kept.
// Accepting an already accepted request changes nothing.
func (w *Workflow) Accept(ctx context.Context, requestID, actingUserID string) (models.FriendRequest, error) {
	req, err := w.answerable(ctx, requestID, actingUserID, models.FriendRequestAccepted)
	if err != nil || req.Status == models.FriendRequestAccepted {
		return req, err
	}
	if err := w.setStatus(ctx, requestID, models.FriendRequestAccepted); err != nil {
		return req, err
	}
	req.Status = models.FriendRequestAccepted

	for _, pair := range [][2]string{{req.FromUserID, req.ToUserID}, {req.ToUserID, req.FromUserID}} {
		if err := w.users.AddFriend(ctx, pair[0], pair[1]); err != nil {
			w.log.Error().Err(err).Str("request_id", requestID).Str("user_id", pair[0]).Str("friend_id", pair[1]).Msg("friend list update failed")
		}
	}
	w.scheduleCleanup(requestID)
	return req, nil
}

// Reject marks the request rejected and deletes it after the grace delay.
func (w *Workflow) Reject(ctx context.Context, requestID, actingUserID string) (models.FriendRequest, error) {
	req, err := w.answerable(ctx, requestID, actingUserID, models.FriendRequestRejected)
	if err != nil || req.Status == models.FriendRequestRejected {
		return req, err
	}
	if err := w.setStatus(ctx, requestID, models.FriendRequestRejected); err != nil {
		return req, err
	}
	req.Status = models.FriendRequestRejected
	w.scheduleCleanup(requestID)
	return req, nil
}

func (w *Workflow) answerable(ctx context.Context, requestID, actingUserID string, target models.FriendRequestStatus) (models.FriendRequest, error) {
	req, err := w.Get(ctx, requestID)
	if err != nil {
		return models.FriendRequest{}, err
	}
	if req.ToUserID != actingUserID {
		return models.FriendRequest{}, ErrNotRecipient
	}
	if req.Status != models.FriendRequestPending && req.Status != target {
		return req, ErrInvalidTransition
	}
	return req, nil
}

func (w *Workflow) setStatus(ctx context.Context, requestID string, status models.FriendRequestStatus) error {
	err := w.store.Update(ctx, models.FriendRequestPath(requestID), map[string]any{"status": string(status)})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrRequestNotFound
	}
	if err != nil {
		return fmt.Errorf("update friend request: %w", err)
	}
	return nil
}

// scheduleCleanup deletes the request once dependent triggers have had time
// to observe the answered state. A failed delete leaves the request in place.
func (w *Workflow) scheduleCleanup(requestID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.cleanups[requestID]; ok {
		return
	}
	w.cleanups[requestID] = w.clock.AfterFunc(w.grace, func() {
		w.mu.Lock()
		delete(w.cleanups, requestID)
		w.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := w.store.Delete(ctx, models.FriendRequestPath(requestID)); err != nil {
			w.log.Warn().Err(err).Str("request_id", requestID).Msg("friend request cleanup failed")
			return
		}
		w.log.Debug().Str("request_id", requestID).Msg("friend request removed")
	})
}

// Close cancels cleanups that have not run yet.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.cleanups {
		t.Stop()
		delete(w.cleanups, id)
	}
}

// Incoming lists pending requests addressed to userID.
func (w *Workflow) Incoming(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	docs, err := w.store.Query(ctx, incomingQuery(userID))
	if err != nil {
		return nil, fmt.Errorf("incoming friend requests: %w", err)
	}
	return decode(docs), nil
}

func (w *Workflow) Relation(ctx context.Context, me, other string) (Relation, error) {
	friends, err := w.users.Friends(ctx, me)
	if err != nil {
		return RelationNone, err
	}
	for _, f := range friends {
		if f == other {
			return RelationFriends, nil
		}
	}
	out, err := w.pending(ctx, me, other)
	if err != nil {
		return RelationNone, err
	}
	if len(out) > 0 {
		return RelationOutgoingPending, nil
	}
	in, err := w.pending(ctx, other, me)
	if err != nil {
		return RelationNone, err
	}
	if len(in) > 0 {
		return RelationIncomingPending, nil
	}
	return RelationNone, nil
}

func (w *Workflow) pending(ctx context.Context, fromID, toID string) ([]docstore.Document, error) {
	docs, err := w.store.Query(ctx, docstore.Query{Collection: models.FriendRequestsCollection}.
		Where("fromUserID", fromID).
		Where("toUserID", toID).
		Where("status", string(models.FriendRequestPending)))
	if err != nil {
		return nil, fmt.Errorf("query pending friend requests: %w", err)
	}
	return docs, nil
}

func incomingQuery(userID string) docstore.Query {
	return docstore.Query{Collection: models.FriendRequestsCollection}.
		Where("toUserID", userID).
		Where("status", string(models.FriendRequestPending))
}

func decode(docs []docstore.Document) []models.FriendRequest {
	out := make([]models.FriendRequest, 0, len(docs))
	for _, doc := range docs {
		out = append(out, models.FriendRequestFromDoc(doc))
	}
	return out
}
