// Package ledger owns the ordered message log of each thread and the
// delivered/read receipts on its messages.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/models"
)

var (
	ErrEmptyContent    = errors.New("message content is empty")
	ErrMessageNotFound = errors.New("message not found")
)

type Ledger struct {
	store docstore.Store
	log   zerolog.Logger
}

func New(store docstore.Store, log zerolog.Logger) *Ledger {
	return &Ledger{store: store, log: log.With().Str("component", "ledger").Logger()}
}

func ordered(thread string) docstore.Query {
	return docstore.Query{Collection: models.MessagesPath(thread), OrderBy: "createdAt"}
}

// Send appends a message with read=false and a server-assigned createdAt,
// then stamps deliveredAt once the write is confirmed.
func (l *Ledger) Send(ctx context.Context, thread, senderID, receiverID, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyContent
	}
	id := uuid.NewString()
	path := models.MessagePath(thread, id)
	err := l.store.Set(ctx, path, map[string]any{
		"senderID":   senderID,
		"receiverID": receiverID,
		"content":    content,
		"createdAt":  docstore.ServerTimestamp,
		"read":       false,
	})
	if err != nil {
		l.log.Error().Err(err).Str("thread", thread).Str("sender_id", senderID).Msg("message write failed")
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}
	if err := l.Deliver(ctx, thread, id); err != nil {
		// The message exists; a missing receipt is tolerated.
		l.log.Warn().Err(err).Str("thread", thread).Str("message_id", id).Msg("delivery receipt failed")
	}
	doc, err := l.store.Get(ctx, path)
	if err != nil {
		return models.Message{}, fmt.Errorf("read back message: %w", err)
	}
	return models.MessageFromDoc(doc), nil
}

// Deliver sets the delivery receipt of a stored message.
func (l *Ledger) Deliver(ctx context.Context, thread, messageID string) error {
	err := l.store.Update(ctx, models.MessagePath(thread, messageID), map[string]any{
		"deliveredAt": docstore.ServerTimestamp,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrMessageNotFound
	}
	return err
}

// List returns the thread's messages ordered by creation time.
func (l *Ledger) List(ctx context.Context, thread string) ([]models.Message, error) {
	docs, err := l.store.Query(ctx, ordered(thread))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return decode(docs), nil
}

// Subscribe emits the complete ordered message list on every change to the
// thread. Consumers replace their list with each emission.
func (l *Ledger) Subscribe(ctx context.Context, thread string) (<-chan []models.Message, error) {
	snaps, err := l.store.WatchQuery(ctx, ordered(thread))
	if err != nil {
		return nil, fmt.Errorf("watch messages: %w", err)
	}
	out := make(chan []models.Message)
	go func() {
		defer close(out)
		for snap := range snaps {
			select {
			case out <- decode(snap.Docs):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// MarkRead flips every unread message addressed to forUser to read. It
// returns how many messages changed; calling it again is a no-op. Callers
// must only invoke it while the thread is on screen.
func (l *Ledger) MarkRead(ctx context.Context, thread, forUser string) (int, error) {
	docs, err := l.store.Query(ctx, docstore.Query{Collection: models.MessagesPath(thread)}.
		Where("receiverID", forUser).
		Where("read", false))
	if err != nil {
		return 0, fmt.Errorf("query unread: %w", err)
	}
	var errs []error
	marked := 0
	for _, doc := range docs {
		err := l.store.Update(ctx, doc.Path, map[string]any{
			"read":   true,
			"readAt": docstore.ServerTimestamp,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		marked++
	}
	if err := errors.Join(errs...); err != nil {
		l.log.Warn().Err(err).Str("thread", thread).Str("user_id", forUser).Int("marked", marked).Msg("mark read incomplete")
		return marked, fmt.Errorf("mark read: %w", err)
	}
	return marked, nil
}

// MarkViewed records that the thread's notifications were seen.
func (l *Ledger) MarkViewed(ctx context.Context, thread string) error {
	return l.store.Set(ctx, models.ChatPath(thread), map[string]any{"notificationsViewed": true}, docstore.Merge())
}

func decode(docs []docstore.Document) []models.Message {
	msgs := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		msgs = append(msgs, models.MessageFromDoc(doc))
	}
	return msgs
}
