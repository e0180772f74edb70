// Package session runs the client-side chat engine for one open
// conversation: it owns the conversation's live subscriptions and a single
// state container that is only mutated on the session goroutine.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"nexchat-service/internal/identity"
	"nexchat-service/internal/ledger"
	"nexchat-service/internal/models"
	"nexchat-service/internal/nex"
	"nexchat-service/internal/presence"
	"nexchat-service/internal/typing"
)

var ErrClosed = errors.New("session closed")

const teardownTimeout = 5 * time.Second

// ChatState is everything a chat view renders. Slices are replaced, never
// mutated, so a published state is safe to read after it is sent.
type ChatState struct {
	Thread       string           `json:"thread"`
	Self         string           `json:"self"`
	Peer         string           `json:"peer"`
	PeerInChat   bool             `json:"peerInChat"`
	PeerLastSeen time.Time        `json:"peerLastSeen"`
	PeerTyping   bool             `json:"peerTyping"`
	Messages     []models.Message `json:"messages"`
	Status       ledger.Status    `json:"status"`
	Nexes        []models.Nex     `json:"nexes"`
	Draft        string           `json:"draft"`
	Visible      bool             `json:"visible"`
}

type Deps struct {
	Presence *presence.Tracker
	Typing   *typing.Service
	Ledger   *ledger.Ledger
	Nex      *nex.Service
	Log      zerolog.Logger
}

type Session struct {
	thread string
	deps   Deps
	log    zerolog.Logger
	typing *typing.Coordinator

	ctx     context.Context
	cancel  context.CancelFunc
	cmds    chan command
	updates chan ChatState
	done    chan struct{}

	// Owned by the run goroutine.
	state ChatState
}

type command struct {
	apply func(s *Session) error
	reply chan error
}

// Open starts a session for self viewing the conversation with peer and
// marks self as in the chat. Close must be called to release it.
func Open(ctx context.Context, deps Deps, self, peer string) (*Session, error) {
	thread := identity.ThreadKey(self, peer)
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		thread:  thread,
		deps:    deps,
		log:     deps.Log.With().Str("component", "session").Str("thread", thread).Str("user_id", self).Logger(),
		typing:  deps.Typing.Coordinator(thread, self, peer),
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan command),
		updates: make(chan ChatState, 1),
		done:    make(chan struct{}),
		state:   ChatState{Thread: thread, Self: self, Peer: peer, Status: ledger.StatusNone, Visible: true},
	}

	presenceCh, err := deps.Presence.Subscribe(ctx, thread, peer)
	if err != nil {
		cancel()
		return nil, err
	}
	typingCh, err := deps.Typing.SubscribePeer(ctx, thread, peer)
	if err != nil {
		cancel()
		return nil, err
	}
	messagesCh, err := deps.Ledger.Subscribe(ctx, thread)
	if err != nil {
		cancel()
		return nil, err
	}
	nexCh, err := deps.Nex.Subscribe(ctx, self, peer)
	if err != nil {
		cancel()
		return nil, err
	}

	_ = deps.Presence.Apply(ctx, thread, self, presence.Appear)
	go s.run(presenceCh, typingCh, messagesCh, nexCh)
	return s, nil
}

// Updates delivers the latest state. Intermediate states may be skipped
// when the reader is slow. The channel is closed after Close.
func (s *Session) Updates() <-chan ChatState {
	return s.updates
}

func (s *Session) Thread() string {
	return s.thread
}

// Close tears down every subscription, clears the typing indicator and
// marks self as out of the chat.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) run(
	presenceCh <-chan models.Presence,
	typingCh <-chan bool,
	messagesCh <-chan []models.Message,
	nexCh <-chan []models.Nex,
) {
	defer close(s.done)
	defer close(s.updates)
	defer s.teardown()

	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd.reply <- cmd.apply(s)
		case p, ok := <-presenceCh:
			if !ok {
				presenceCh = nil
				continue
			}
			s.state.PeerInChat = p.InChat
			s.state.PeerLastSeen = p.LastSeen
		case peerTyping, ok := <-typingCh:
			if !ok {
				typingCh = nil
				continue
			}
			s.state.PeerTyping = peerTyping
		case msgs, ok := <-messagesCh:
			if !ok {
				messagesCh = nil
				continue
			}
			s.state.Messages = msgs
			s.state.Status = ledger.ClassifyMessages(msgs, s.state.Self)
			s.markReadIfVisible()
		case nexes, ok := <-nexCh:
			if !ok {
				nexCh = nil
				continue
			}
			s.state.Nexes = nexes
		}
		s.publish()
	}
}

func (s *Session) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	_ = s.typing.Stop(ctx)
	_ = s.deps.Presence.SetInChat(ctx, s.state.Thread, s.state.Self, false)
}

func (s *Session) publish() {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- s.state
}

// markReadIfVisible is the read gate: messages are only marked read while
// the conversation is on screen.
func (s *Session) markReadIfVisible() {
	if !s.state.Visible {
		return
	}
	for _, m := range s.state.Messages {
		if m.ReceiverID == s.state.Self && !m.Read {
			if _, err := s.deps.Ledger.MarkRead(s.ctx, s.state.Thread, s.state.Self); err != nil {
				s.log.Warn().Err(err).Msg("mark read failed")
			}
			return
		}
	}
}

func (s *Session) do(ctx context.Context, apply func(s *Session) error) error {
	cmd := command{apply: apply, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// InputChanged reports the composer content.
func (s *Session) InputChanged(ctx context.Context, text string) error {
	return s.do(ctx, func(s *Session) error {
		s.state.Draft = text
		return s.typing.ContentChanged(s.ctx, text)
	})
}

// SendMessage clears the draft before the write is issued, then sends.
func (s *Session) SendMessage(ctx context.Context, text string) (models.Message, error) {
	var sent models.Message
	err := s.do(ctx, func(s *Session) error {
		s.state.Draft = ""
		s.publish()
		_ = s.typing.ContentChanged(s.ctx, "")
		msg, err := s.deps.Ledger.Send(s.ctx, s.state.Thread, s.state.Self, s.state.Peer, text)
		if err != nil {
			return err
		}
		sent = msg
		return nil
	})
	return sent, err
}

// Lifecycle applies a view or app transition. Leaving or backgrounding
// also closes the read gate; appearing or foregrounding opens it.
func (s *Session) Lifecycle(ctx context.Context, event presence.Lifecycle) error {
	return s.do(ctx, func(s *Session) error {
		inChat, ok := event.InChat()
		if !ok {
			return errors.New("unknown lifecycle event")
		}
		_ = s.deps.Presence.SetInChat(s.ctx, s.state.Thread, s.state.Self, inChat)
		s.state.Visible = inChat
		s.markReadIfVisible()
		return nil
	})
}

// SetVisible toggles the read gate directly.
func (s *Session) SetVisible(ctx context.Context, visible bool) error {
	return s.do(ctx, func(s *Session) error {
		s.state.Visible = visible
		if visible {
			s.markReadIfVisible()
			if err := s.deps.Ledger.MarkViewed(s.ctx, s.state.Thread); err != nil {
				s.log.Warn().Err(err).Msg("mark viewed failed")
			}
		}
		return nil
	})
}

func (s *Session) OpenNex(ctx context.Context, nexID string) error {
	return s.do(ctx, func(s *Session) error {
		return s.deps.Nex.MarkOpened(s.ctx, s.state.Self, s.state.Peer, nexID)
	})
}
