package triggers

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/models"
	"nexchat-service/internal/observability"
)

// Route patterns of the documents the dispatcher reacts to.
const (
	FriendRequestPattern = "friendRequests/{requestId}"
	MessagePattern       = "chats/{chatId}/messages/{messageId}"
	TypingPattern        = "typingIndicators/{chatId}"
)

// DefaultSources are the listeners needed by the notification handlers.
func DefaultSources() []docstore.Query {
	return []docstore.Query{
		{Collection: models.FriendRequestsCollection},
		{Collection: models.MessagesCollection, Group: true},
		{Collection: models.TypingIndicatorsCollection},
	}
}

// Watcher listens to document collections and publishes one Event per
// observed change. The initial snapshot of every listener only seeds the
// before-state cache; writes made while the watcher is down are not replayed.
type Watcher struct {
	store   docstore.Store
	bus     Bus
	sources []docstore.Query
	log     zerolog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewWatcher(store docstore.Store, bus Bus, sources []docstore.Query, log zerolog.Logger) *Watcher {
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	return &Watcher{
		store:   store,
		bus:     bus,
		sources: sources,
		log:     log.With().Str("component", "trigger_watcher").Logger(),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once every listener is registered. Changes made after that
// point produce events.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run blocks until ctx is done or a listener stops unexpectedly.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(w.sources))
	var wg sync.WaitGroup
	for _, q := range w.sources {
		snaps, err := w.store.WatchQuery(ctx, q)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(q docstore.Query) {
			defer wg.Done()
			if err := w.follow(ctx, q, snaps); err != nil {
				errs <- err
				cancel()
			}
		}(q)
	}
	w.readyOnce.Do(func() { close(w.ready) })
	wg.Wait()
	close(errs)
	return <-errs
}

var errListenerClosed = errors.New("document listener closed")

func (w *Watcher) follow(ctx context.Context, q docstore.Query, snaps <-chan docstore.QuerySnapshot) error {
	source := q.Collection
	log := w.log.With().Str("source", source).Logger()
	cache := map[string]docstore.Document{}
	initial := true

	for snap := range snaps {
		if initial {
			for _, doc := range snap.Docs {
				cache[doc.Path] = doc
			}
			initial = false
			log.Debug().Int("documents", len(snap.Docs)).Msg("trigger listener ready")
			continue
		}
		for _, change := range snap.Changes {
			ev := w.toEvent(change, cache)
			if err := w.bus.Publish(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				observability.IncTriggerPublishError(source)
				log.Error().Err(err).Str("event_id", ev.ID).Str("path", ev.Path).Msg("publish trigger event failed")
				continue
			}
			observability.IncTriggerEvent(source, string(ev.Kind))
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return errListenerClosed
}

func (w *Watcher) toEvent(change docstore.Change, cache map[string]docstore.Document) Event {
	doc := change.Doc
	prev, had := cache[doc.Path]
	ev := Event{Path: doc.Path, OccurredAt: doc.UpdateTime}

	switch {
	case change.Kind == docstore.ChangeRemoved:
		ev.Kind = KindDelete
		ev.Before = prev.Fields
		if !had {
			ev.Before = doc.Fields
		}
		delete(cache, doc.Path)
	case change.Kind == docstore.ChangeAdded && !had:
		ev.Kind = KindCreate
		ev.After = doc.Fields
		cache[doc.Path] = doc
	default:
		ev.Kind = KindUpdate
		ev.Before = prev.Fields
		ev.After = doc.Fields
		cache[doc.Path] = doc
	}
	ev.ID = EventID(ev.Kind, ev.Path, doc.UpdateTime)
	return ev
}
