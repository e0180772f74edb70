package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"nexchat-service/internal/observability"
	"nexchat-service/internal/triggers"
)

const triggerBinding = "triggers.#"

// Bus is a triggers.Bus on a RabbitMQ topic exchange. Events are routed as
// triggers.<collection>.<kind> into one durable queue shared by every
// dispatcher instance; deliveries are acked after the handler returns.
type Bus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	log      zerolog.Logger
}

func NewBus(amqpURL, exchange, queue string, log zerolog.Logger) (*Bus, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	conn, ch, err := dialTopic(amqpURL, exchange)
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue, triggerBinding, exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	return &Bus{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		queue:    queue,
		log:      log.With().Str("component", "amqp_bus").Str("queue", queue).Logger(),
	}, nil
}

// NewTriggerBus returns an AMQP bus, or an in-process bus when AMQP is not
// configured or cannot be reached.
func NewTriggerBus(amqpURL, exchange, queue string, log zerolog.Logger) triggers.Bus {
	if amqpURL != "" {
		bus, err := NewBus(amqpURL, exchange, queue, log)
		if err == nil {
			log.Info().Str("exchange", exchange).Str("queue", queue).Msg("trigger bus on rabbitmq")
			return bus
		}
		log.Warn().Err(err).Msg("rabbitmq trigger bus unavailable, using in-process bus")
	}
	return triggers.NewLocalBus(256, log)
}

func RoutingKey(ev triggers.Event) string {
	return strings.Join([]string{"triggers", ev.Collection(), string(ev.Kind)}, ".")
}

func (b *Bus) Publish(ctx context.Context, ev triggers.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = b.ch.PublishWithContext(ctx, b.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		Headers:      traceHeaders(ctx),
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
	}
	return err
}

// consumerPrefetch bounds both the unacked deliveries held by this consumer
// and the handlers running at once.
const consumerPrefetch = 16

// Consume delivers events to h until ctx is done, running up to
// consumerPrefetch handlers concurrently. A handler error or an undecodable
// body is nacked without requeue; handlers own their retries.
func (b *Bus) Consume(ctx context.Context, h triggers.Handler) error {
	if err := b.ch.Qos(consumerPrefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := b.ch.ConsumeWithContext(ctx, b.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	return b.serve(ctx, deliveries, h, consumerPrefetch)
}

// serve fans deliveries out to at most limit handlers and waits for the
// running ones before returning.
func (b *Bus) serve(ctx context.Context, deliveries <-chan amqp.Delivery, h triggers.Handler, limit int) error {
	var g errgroup.Group
	g.SetLimit(limit)
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return nil
		case d, ok := <-deliveries:
			if !ok {
				_ = g.Wait()
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("amqp delivery channel closed")
			}
			g.Go(func() error {
				b.handle(ctx, d, h)
				return nil
			})
		}
	}
}

func (b *Bus) handle(ctx context.Context, d amqp.Delivery, h triggers.Handler) {
	var ev triggers.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		b.log.Error().Err(err).Str("message_id", d.MessageId).Msg("undecodable trigger event")
		_ = d.Nack(false, false)
		return
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
	if err := h(ctx, ev); err != nil {
		b.log.Warn().Err(err).Str("event_id", ev.ID).Str("path", ev.Path).Msg("trigger handler failed")
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (b *Bus) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// headerCarrier adapts AMQP headers to the otel propagator.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = headerCarrier{}

func traceHeaders(ctx context.Context) amqp.Table {
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))
	return headers
}
