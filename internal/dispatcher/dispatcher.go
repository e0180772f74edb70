// Package dispatcher reacts to document change events with push
// notifications. Handlers are safe to run concurrently and tolerate
// redelivery of the same event.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexchat-service/internal/docstore"
	"nexchat-service/internal/idempotency"
	"nexchat-service/internal/observability"
	"nexchat-service/internal/push"
	"nexchat-service/internal/telemetry"
	"nexchat-service/internal/triggers"
	"nexchat-service/internal/users"
)

const DefaultTypingCooldown = 30 * time.Second

const unknownUser = "Unknown User"

// Outcomes reported to metrics and audit events.
const (
	OutcomeSent            = "sent"
	OutcomeIgnored         = "ignored"
	OutcomeDuplicate       = "duplicate"
	OutcomeNoToken         = "skipped_no_token"
	OutcomeMissingUser     = "skipped_missing_user"
	OutcomeCooldown        = "suppressed_cooldown"
	OutcomeAlreadyNotified = "already_notified"
	OutcomePushFailed      = "push_failed"
	OutcomeError           = "error"
)

type Deps struct {
	Store          docstore.Store
	Users          *users.Directory
	Push           push.Sender
	Guard          idempotency.Guard
	Clock          clockwork.Clock
	Audit          *telemetry.AuditEmitter
	Log            zerolog.Logger
	TypingCooldown time.Duration
	Sound          string
}

type Dispatcher struct {
	store    docstore.Store
	users    *users.Directory
	push     push.Sender
	guard    idempotency.Guard
	clock    clockwork.Clock
	audit    *telemetry.AuditEmitter
	log      zerolog.Logger
	tracer   trace.Tracer
	cooldown time.Duration
	sound    string
	routes   []route
}

type handlerFunc func(ctx context.Context, params map[string]string, ev triggers.Event) (result, error)

type route struct {
	name    string
	pattern string
	kinds   []triggers.Kind
	handle  handlerFunc
}

// result describes what a handler did with one event.
type result struct {
	outcome   string
	recipient string
}

func New(d Deps) *Dispatcher {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.TypingCooldown <= 0 {
		d.TypingCooldown = DefaultTypingCooldown
	}
	if d.Sound == "" {
		d.Sound = push.DefaultSound
	}
	disp := &Dispatcher{
		store:    d.Store,
		users:    d.Users,
		push:     d.Push,
		guard:    d.Guard,
		clock:    d.Clock,
		audit:    d.Audit,
		log:      d.Log.With().Str("component", "dispatcher").Logger(),
		tracer:   otel.Tracer("nexchat-service/dispatcher"),
		cooldown: d.TypingCooldown,
		sound:    d.Sound,
	}
	disp.routes = []route{
		{name: "friend_request_created", pattern: triggers.FriendRequestPattern, kinds: []triggers.Kind{triggers.KindCreate}, handle: disp.onFriendRequestCreated},
		{name: "friend_request_accepted", pattern: triggers.FriendRequestPattern, kinds: []triggers.Kind{triggers.KindUpdate}, handle: disp.onFriendRequestUpdated},
		{name: "chat_message", pattern: triggers.MessagePattern, kinds: []triggers.Kind{triggers.KindCreate}, handle: disp.onMessageCreated},
		{name: "typing", pattern: triggers.TypingPattern, kinds: []triggers.Kind{triggers.KindCreate, triggers.KindUpdate, triggers.KindDelete}, handle: disp.onTypingWritten},
	}
	return disp
}

// Handle routes one event. It satisfies triggers.Handler.
func (d *Dispatcher) Handle(ctx context.Context, ev triggers.Event) error {
	rt, params, ok := d.match(ev)
	if !ok {
		return nil
	}
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "dispatch "+rt.name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("trigger.event_id", ev.ID),
			attribute.String("trigger.kind", string(ev.Kind)),
			attribute.String("trigger.path", ev.Path),
		))
	defer span.End()
	log := d.log.With().Str("handler", rt.name).Str("event_id", ev.ID).Str("path", ev.Path).Logger()

	res, err := d.run(ctx, rt, params, ev, log)
	if err != nil {
		res.outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		log.Error().Err(err).Msg("trigger handling failed")
	}
	span.SetAttributes(attribute.String("dispatch.outcome", res.outcome))
	observability.ObserveDispatch(rt.name, res.outcome, time.Since(start))
	if res.outcome != OutcomeIgnored {
		d.audit.Emit(ctx, telemetry.AuditRecord{
			Level:   auditLevel(res.outcome),
			Text:    fmt.Sprintf("%s: %s", rt.name, res.outcome),
			Action:  "push." + rt.name,
			Outcome: res.outcome,
			Subject: ev.Path,
			UserID:  res.recipient,
		})
	}
	return err
}

func (d *Dispatcher) run(ctx context.Context, rt route, params map[string]string, ev triggers.Event, log zerolog.Logger) (result, error) {
	if d.guard != nil && ev.ID != "" {
		first, err := d.guard.FirstSeen(ctx, "trigger:"+ev.ID)
		if err != nil {
			log.Warn().Err(err).Msg("idempotency guard unavailable, handling anyway")
		} else if !first {
			log.Debug().Msg("duplicate trigger event")
			return result{outcome: OutcomeDuplicate}, nil
		}
	}
	return rt.handle(logCtx(ctx, log), params, ev)
}

func (d *Dispatcher) match(ev triggers.Event) (route, map[string]string, bool) {
	for _, rt := range d.routes {
		params, ok := triggers.Match(rt.pattern, ev.Path)
		if !ok {
			continue
		}
		for _, k := range rt.kinds {
			if k == ev.Kind {
				return rt, params, true
			}
		}
	}
	return route{}, nil, false
}

// send makes the single push attempt for an event. Delivery errors are
// logged and reported as an outcome, never retried.
func (d *Dispatcher) send(ctx context.Context, token, title, body string) (string, bool) {
	id, err := d.push.Send(ctx, push.Notification{Token: token, Title: title, Body: body, Sound: d.sound})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("title", title).Msg("push delivery failed")
		return "", false
	}
	zerolog.Ctx(ctx).Info().Str("message_id", id).Str("title", title).Msg("push sent")
	return id, true
}

// lookup resolves a user, reporting ok=false when the document is missing.
func (d *Dispatcher) lookup(ctx context.Context, userID string) (name, token string, ok bool, err error) {
	u, err := d.users.Get(ctx, userID)
	if errors.Is(err, users.ErrUserNotFound) {
		zerolog.Ctx(ctx).Info().Str("user_id", userID).Msg("user not found")
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, err
	}
	name = u.Username
	if name == "" {
		name = unknownUser
	}
	return name, u.FCMToken, true, nil
}

var notificationNamespace = uuid.MustParse("0b7f3f0e-98a4-4a53-9d0e-5f7f0c6f8d21")

// notificationID is derived from the request so that concurrent duplicates
// write the same record.
func notificationID(requestID string) string {
	return uuid.NewSHA1(notificationNamespace, []byte("friendRequest|"+requestID)).String()
}

func logCtx(ctx context.Context, log zerolog.Logger) context.Context {
	return log.WithContext(ctx)
}

func auditLevel(outcome string) string {
	switch outcome {
	case OutcomePushFailed, OutcomeError:
		return "error"
	case OutcomeSent:
		return "info"
	}
	return "debug"
}
