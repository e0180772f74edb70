package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/models"
	"nexchat-service/internal/triggers"
)

func (d *Dispatcher) onFriendRequestCreated(ctx context.Context, params map[string]string, ev triggers.Event) (result, error) {
	requestID := params["requestId"]
	req := models.FriendRequestFromDoc(docstore.Document{ID: requestID, Fields: ev.After})
	res := result{recipient: req.ToUserID}

	id := notificationID(requestID)
	if _, err := d.store.Get(ctx, models.NotificationPath(id)); err == nil {
		return withOutcome(res, OutcomeAlreadyNotified), nil
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return res, fmt.Errorf("check notification record: %w", err)
	}

	senderName, _, ok, err := d.lookup(ctx, req.FromUserID)
	if err != nil || !ok {
		return withOutcome(res, OutcomeMissingUser), err
	}
	_, token, ok, err := d.lookup(ctx, req.ToUserID)
	if err != nil || !ok {
		return withOutcome(res, OutcomeMissingUser), err
	}
	if token == "" {
		return withOutcome(res, OutcomeNoToken), nil
	}

	messageID, sent := d.send(ctx, token, "New Friend Request", fmt.Sprintf("%s sent you a friend request!", senderName))
	if !sent {
		return withOutcome(res, OutcomePushFailed), nil
	}

	err = d.store.Set(ctx, models.NotificationPath(id), map[string]any{
		"userId":         req.ToUserID,
		"requestId":      requestID,
		"notificationId": messageID,
		"type":           models.NotificationTypeFriendRequest,
		"createdAt":      docstore.ServerTimestamp,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("notification record write failed")
	}
	return withOutcome(res, OutcomeSent), nil
}

// onFriendRequestUpdated notifies the sender on the pending -> accepted edge.
func (d *Dispatcher) onFriendRequestUpdated(ctx context.Context, params map[string]string, ev triggers.Event) (result, error) {
	requestID := params["requestId"]
	before := models.FriendRequestFromDoc(docstore.Document{ID: requestID, Fields: ev.Before})
	after := models.FriendRequestFromDoc(docstore.Document{ID: requestID, Fields: ev.After})
	res := result{recipient: after.FromUserID}

	if before.Status != models.FriendRequestPending || after.Status != models.FriendRequestAccepted {
		return withOutcome(res, OutcomeIgnored), nil
	}
	notified := after.Notified
	if doc, err := d.store.Get(ctx, models.FriendRequestPath(requestID)); err == nil {
		notified = notified || docstore.Bool(doc.Fields, "notified")
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return res, fmt.Errorf("re-read friend request: %w", err)
	}
	if notified {
		return withOutcome(res, OutcomeAlreadyNotified), nil
	}

	_, token, ok, err := d.lookup(ctx, after.FromUserID)
	if err != nil || !ok {
		return withOutcome(res, OutcomeMissingUser), err
	}
	if token == "" {
		return withOutcome(res, OutcomeNoToken), nil
	}
	accepterName, _, ok, err := d.lookup(ctx, after.ToUserID)
	if err != nil {
		return res, err
	}
	if !ok {
		accepterName = unknownUser
	}

	if _, sent := d.send(ctx, token, "Friend Request Accepted", fmt.Sprintf("%s accepted your friend request!", accepterName)); !sent {
		return withOutcome(res, OutcomePushFailed), nil
	}
	err = d.store.Update(ctx, models.FriendRequestPath(requestID), map[string]any{"notified": true})
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("mark friend request notified failed")
	}
	return withOutcome(res, OutcomeSent), nil
}

func (d *Dispatcher) onMessageCreated(ctx context.Context, _ map[string]string, ev triggers.Event) (result, error) {
	msg := models.MessageFromDoc(docstore.Document{Path: ev.Path, Fields: ev.After})
	res := result{recipient: msg.ReceiverID}

	senderName, _, ok, err := d.lookup(ctx, msg.SenderID)
	if err != nil || !ok {
		return withOutcome(res, OutcomeMissingUser), err
	}
	_, token, ok, err := d.lookup(ctx, msg.ReceiverID)
	if err != nil || !ok {
		return withOutcome(res, OutcomeMissingUser), err
	}
	if token == "" {
		return withOutcome(res, OutcomeNoToken), nil
	}

	if _, sent := d.send(ctx, token, "New Chat Message", fmt.Sprintf("%s sent you a chat!", senderName)); !sent {
		return withOutcome(res, OutcomePushFailed), nil
	}
	return withOutcome(res, OutcomeSent), nil
}

// onTypingWritten sends at most one typing push per thread per cooldown.
func (d *Dispatcher) onTypingWritten(ctx context.Context, params map[string]string, ev triggers.Event) (result, error) {
	if ev.After == nil {
		return result{outcome: OutcomeIgnored}, nil
	}
	rec := models.TypingRecordFromDoc(docstore.Document{Fields: ev.After})
	res := result{recipient: rec.ReceiverID}
	if !rec.IsTyping {
		return withOutcome(res, OutcomeIgnored), nil
	}

	chatID := params["chatId"]
	now := d.clock.Now()
	doc, err := d.store.Get(ctx, models.TypingNotificationPath(chatID))
	switch {
	case err == nil:
		last := models.TypingNotificationFromDoc(doc).LastNotificationTime
		if !last.IsZero() && now.Sub(last) < d.cooldown {
			return withOutcome(res, OutcomeCooldown), nil
		}
	case !errors.Is(err, docstore.ErrNotFound):
		return res, fmt.Errorf("read typing cooldown: %w", err)
	}

	senderName, _, ok, err := d.lookup(ctx, rec.SenderID)
	if err != nil || !ok {
		return withOutcome(res, OutcomeMissingUser), err
	}
	_, token, ok, err := d.lookup(ctx, rec.ReceiverID)
	if err != nil || !ok {
		return withOutcome(res, OutcomeMissingUser), err
	}
	if token == "" {
		return withOutcome(res, OutcomeNoToken), nil
	}

	if _, sent := d.send(ctx, token, fmt.Sprintf("%s is typing...", senderName), ""); !sent {
		return withOutcome(res, OutcomePushFailed), nil
	}
	err = d.store.Set(ctx, models.TypingNotificationPath(chatID), map[string]any{
		"lastNotificationTime": now,
	}, docstore.Merge())
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("typing cooldown write failed")
	}
	return withOutcome(res, OutcomeSent), nil
}

func withOutcome(r result, outcome string) result {
	r.outcome = outcome
	return r
}
