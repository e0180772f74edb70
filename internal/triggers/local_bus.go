package triggers

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var ErrBusClosed = errors.New("trigger bus closed")

// LocalBus is an in-process Bus for single-binary deployments.
type LocalBus struct {
	events chan Event
	log    zerolog.Logger

	once   sync.Once
	closed chan struct{}
}

func NewLocalBus(buffer int, log zerolog.Logger) *LocalBus {
	return &LocalBus{
		events: make(chan Event, buffer),
		log:    log.With().Str("component", "local_bus").Logger(),
		closed: make(chan struct{}),
	}
}

func (b *LocalBus) Publish(ctx context.Context, ev Event) error {
	select {
	case <-b.closed:
		return ErrBusClosed
	default:
	}
	select {
	case b.events <- ev:
		return nil
	case <-b.closed:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume handles events one at a time. Handler errors are logged; the
// event is not redelivered.
func (b *LocalBus) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.closed:
			return nil
		case ev := <-b.events:
			if err := h(ctx, ev); err != nil {
				b.log.Warn().Err(err).Str("event_id", ev.ID).Str("path", ev.Path).Msg("trigger handler failed")
			}
		}
	}
}

func (b *LocalBus) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}
