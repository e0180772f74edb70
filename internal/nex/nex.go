// Package nex stores two-sided photo messages. Every nex is written under
// both participants with the same id, and readers merge both copies.
package nex

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/models"
)

var ErrNexNotFound = errors.New("nex not found")

type Service struct {
	store docstore.Store
	log   zerolog.Logger
}

func NewService(store docstore.Store, log zerolog.Logger) *Service {
	return &Service{store: store, log: log.With().Str("component", "nex").Logger()}
}

// Send writes the nex into the sender's and the receiver's collections. The
// two writes are independent: if one fails the other is kept and the joined
// error is returned.
func (s *Service) Send(ctx context.Context, senderID, receiverID, frontURL, backURL string) (models.Nex, error) {
	id := uuid.NewString()
	fields := map[string]any{
		"frontImageURL": frontURL,
		"backImageURL":  backURL,
		"senderID":      senderID,
		"receiverID":    receiverID,
		"createdAt":     docstore.ServerTimestamp,
		"opened":        false,
	}
	var errs []error
	for _, owner := range []string{senderID, receiverID} {
		if err := s.store.Set(ctx, models.NexPath(owner, id), fields); err != nil {
			s.log.Warn().Err(err).Str("nex_id", id).Str("owner_id", owner).Msg("mirrored nex write failed")
			errs = append(errs, fmt.Errorf("write nex for %s: %w", owner, err))
		}
	}
	if len(errs) == 2 {
		return models.Nex{}, errors.Join(errs...)
	}
	for _, owner := range []string{senderID, receiverID} {
		doc, err := s.store.Get(ctx, models.NexPath(owner, id))
		if err == nil {
			return models.NexFromDoc(doc), errors.Join(errs...)
		}
	}
	return models.Nex{}, errors.Join(errs...)
}

// MarkOpened flips opened on both copies. Opening twice is a no-op and an
// already-opened nex never reverts.
func (s *Service) MarkOpened(ctx context.Context, me, peer, nexID string) error {
	found := false
	var errs []error
	for _, owner := range []string{me, peer} {
		path := models.NexPath(owner, nexID)
		doc, err := s.store.Get(ctx, path)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		found = true
		if docstore.Bool(doc.Fields, "opened") {
			continue
		}
		if err := s.store.Update(ctx, path, map[string]any{"opened": true}); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("mark nex opened: %w", err)
	}
	if !found {
		return ErrNexNotFound
	}
	return nil
}

// List returns the merged nexes exchanged between me and peer.
func (s *Service) List(ctx context.Context, me, peer string) ([]models.Nex, error) {
	mine, err := s.store.Query(ctx, sentTo(me, peer))
	if err != nil {
		return nil, fmt.Errorf("list nexes: %w", err)
	}
	theirs, err := s.store.Query(ctx, sentTo(peer, me))
	if err != nil {
		return nil, fmt.Errorf("list nexes: %w", err)
	}
	return merge(mine, theirs), nil
}

// Subscribe merges the listener on my collection (nexes I sent to peer) with
// the one on peer's collection (nexes peer sent to me). Each emission is the
// deduplicated union ordered by createdAt.
func (s *Service) Subscribe(ctx context.Context, me, peer string) (<-chan []models.Nex, error) {
	ctx, cancel := context.WithCancel(ctx)
	mineCh, err := s.store.WatchQuery(ctx, sentTo(me, peer))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch nexes: %w", err)
	}
	theirsCh, err := s.store.WatchQuery(ctx, sentTo(peer, me))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch nexes: %w", err)
	}
	out := make(chan []models.Nex)
	go func() {
		defer close(out)
		defer cancel()
		var mine, theirs []docstore.Document
		for mineCh != nil || theirsCh != nil {
			select {
			case snap, ok := <-mineCh:
				if !ok {
					mineCh = nil
					continue
				}
				mine = snap.Docs
			case snap, ok := <-theirsCh:
				if !ok {
					theirsCh = nil
					continue
				}
				theirs = snap.Docs
			case <-ctx.Done():
				return
			}
			select {
			case out <- merge(mine, theirs):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func sentTo(owner, receiver string) docstore.Query {
	return docstore.Query{Collection: models.NexesPath(owner)}.Where("receiverID", receiver)
}

// merge dedups by id; a copy marked opened wins over an unopened one.
func merge(lists ...[]docstore.Document) []models.Nex {
	byID := map[string]models.Nex{}
	for _, docs := range lists {
		for _, doc := range docs {
			n := models.NexFromDoc(doc)
			if prev, ok := byID[n.ID]; ok && prev.Opened {
				continue
			}
			byID[n.ID] = n
		}
	}
	out := make([]models.Nex, 0, len(byID))
	for _, n := range byID {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
