package ledger

import (
	"context"
	"fmt"
	"sort"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/identity"
	"nexchat-service/internal/models"
)

// Status is the list-preview classification of a thread for one viewer.
type Status string

const (
	StatusNone      Status = "none"
	StatusNewChat   Status = "newChat"
	StatusReceived  Status = "received"
	StatusDelivered Status = "delivered"
	StatusOpened    Status = "opened"
)

// Classify derives the status from the latest message and whether any
// unread message is addressed to me. An unread incoming message wins over
// everything else.
func Classify(last *models.Message, hasUnread bool, me string) Status {
	switch {
	case hasUnread:
		return StatusNewChat
	case last == nil:
		return StatusNone
	case last.SenderID != me:
		return StatusReceived
	case last.Read:
		return StatusOpened
	}
	return StatusDelivered
}

// ClassifyMessages is Classify over an ordered message list.
func ClassifyMessages(msgs []models.Message, me string) Status {
	hasUnread := false
	for _, m := range msgs {
		if m.ReceiverID == me && !m.Read {
			hasUnread = true
			break
		}
	}
	var last *models.Message
	if len(msgs) > 0 {
		last = &msgs[len(msgs)-1]
	}
	return Classify(last, hasUnread, me)
}

type Summary struct {
	Thread      string          `json:"thread"`
	PeerID      string          `json:"peerID"`
	Status      Status          `json:"status"`
	LastMessage *models.Message `json:"lastMessage,omitempty"`
}

// Summarize classifies the thread between me and peer without loading the
// whole log.
func (l *Ledger) Summarize(ctx context.Context, me, peer string) (Summary, error) {
	thread := identity.ThreadKey(me, peer)
	summary := Summary{Thread: thread, PeerID: peer}

	latest, err := l.store.Query(ctx, docstore.Query{
		Collection: models.MessagesPath(thread),
		OrderBy:    "createdAt",
		Desc:       true,
		Limit:      1,
	})
	if err != nil {
		return summary, fmt.Errorf("latest message: %w", err)
	}
	unread, err := l.store.Query(ctx, docstore.Query{Collection: models.MessagesPath(thread), Limit: 1}.
		Where("receiverID", me).
		Where("read", false))
	if err != nil {
		return summary, fmt.Errorf("unread messages: %w", err)
	}

	if len(latest) > 0 {
		msg := models.MessageFromDoc(latest[0])
		summary.LastMessage = &msg
	}
	summary.Status = Classify(summary.LastMessage, len(unread) > 0, me)
	return summary, nil
}

// Summaries summarizes every peer's thread, most recent activity first.
// Threads whose lookup fails are logged and skipped.
func (l *Ledger) Summaries(ctx context.Context, me string, peers []string) ([]Summary, error) {
	out := make([]Summary, 0, len(peers))
	for _, peer := range peers {
		s, err := l.Summarize(ctx, me, peer)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.log.Warn().Err(err).Str("user_id", me).Str("peer_id", peer).Msg("summary failed")
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out, nil
}

// SubscribeSummary re-derives the thread status on every snapshot.
func (l *Ledger) SubscribeSummary(ctx context.Context, me, peer string) (<-chan Summary, error) {
	thread := identity.ThreadKey(me, peer)
	lists, err := l.Subscribe(ctx, thread)
	if err != nil {
		return nil, err
	}
	out := make(chan Summary)
	go func() {
		defer close(out)
		for msgs := range lists {
			s := Summary{Thread: thread, PeerID: peer, Status: ClassifyMessages(msgs, me)}
			if len(msgs) > 0 {
				last := msgs[len(msgs)-1]
				s.LastMessage = &last
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
