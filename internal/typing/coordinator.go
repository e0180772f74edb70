// Package typing drives the per-thread typing indicator: a debounced
// IDLE/TYPING machine on the sender side and a filtered view for the peer.
package typing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/models"
)

const DefaultIdleTimeout = 2 * time.Second

// expiryWriteTimeout bounds the write issued from the idle timer, which has
// no caller context.
const expiryWriteTimeout = 5 * time.Second

type State int

const (
	Idle State = iota
	Typing
)

func (s State) String() string {
	if s == Typing {
		return "typing"
	}
	return "idle"
}

// Service creates coordinators and peer subscriptions sharing one store.
type Service struct {
	store docstore.Store
	clock clockwork.Clock
	idle  time.Duration
	log   zerolog.Logger
}

func NewService(store docstore.Store, clk clockwork.Clock, idle time.Duration, log zerolog.Logger) *Service {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Service{
		store: store,
		clock: clk,
		idle:  idle,
		log:   log.With().Str("component", "typing").Logger(),
	}
}

// Coordinator is the typing machine for one sender in one thread.
type Coordinator struct {
	svc    *Service
	thread string
	self   string
	peer   string
	log    zerolog.Logger

	mu          sync.Mutex
	state       State
	lastTypedAt time.Time
	timer       clockwork.Timer
	stopped     bool
}

func (s *Service) Coordinator(thread, self, peer string) *Coordinator {
	return &Coordinator{
		svc:    s,
		thread: thread,
		self:   self,
		peer:   peer,
		log:    s.log.With().Str("thread", thread).Str("user_id", self).Logger(),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ContentChanged feeds the current composer content. Non-empty content marks
// the sender as typing and restarts the idle countdown; empty content clears
// the indicator at once.
func (c *Coordinator) ContentChanged(ctx context.Context, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}

	if content == "" {
		c.stopTimerLocked()
		c.state = Idle
		return c.writeLocked(ctx, false, time.Time{})
	}

	now := c.svc.clock.Now()
	c.state = Typing
	c.lastTypedAt = now
	c.stopTimerLocked()
	c.timer = c.svc.clock.AfterFunc(c.svc.idle, func() { c.expire(now) })
	return c.writeLocked(ctx, true, now)
}

// Stop clears a pending indicator and disables the coordinator.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true
	c.stopTimerLocked()
	if c.state != Typing {
		return nil
	}
	c.state = Idle
	return c.writeLocked(ctx, false, time.Time{})
}

// expire runs when the countdown started at typedAt elapses. A newer
// keystroke moves lastTypedAt forward, which turns this call into a no-op.
func (c *Coordinator) expire(typedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.state != Typing || !c.lastTypedAt.Equal(typedAt) {
		return
	}
	c.state = Idle
	c.timer = nil
	ctx, cancel := context.WithTimeout(context.Background(), expiryWriteTimeout)
	defer cancel()
	_ = c.writeLocked(ctx, false, time.Time{})
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) writeLocked(ctx context.Context, isTyping bool, typedAt time.Time) error {
	fields := map[string]any{
		"senderID":   c.self,
		"receiverID": c.peer,
		"isTyping":   isTyping,
	}
	if isTyping {
		fields["lastTyped"] = typedAt
	}
	if err := c.svc.store.Set(ctx, models.TypingPath(c.thread), fields, docstore.Merge()); err != nil {
		c.log.Warn().Err(err).Bool("is_typing", isTyping).Msg("typing write failed")
		return fmt.Errorf("write typing state: %w", err)
	}
	return nil
}

// SubscribePeer reports whether peerID is typing in thread. The shared record
// also carries the local user's own state; only records written by the peer
// count. Values are emitted on change.
func (s *Service) SubscribePeer(ctx context.Context, thread, peerID string) (<-chan bool, error) {
	snaps, err := s.store.WatchDoc(ctx, models.TypingPath(thread))
	if err != nil {
		return nil, fmt.Errorf("watch typing: %w", err)
	}
	out := make(chan bool)
	go func() {
		defer close(out)
		first := true
		var last bool
		for snap := range snaps {
			typing := false
			if snap.Exists {
				rec := models.TypingRecordFromDoc(snap.Doc)
				typing = rec.IsTyping && rec.SenderID == peerID
			}
			if !first && typing == last {
				continue
			}
			first, last = false, typing
			select {
			case out <- typing:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
