package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	keys   []string
	events []any
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func TestAuditEmitterBuildsEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.nexchat", "nexchat-service", "test", zerolog.Nop())

	emitter.Emit(context.Background(), AuditRecord{
		Text:    "push sent",
		Action:  "push.chat_message",
		Outcome: "sent",
		UserID:  "u1",
	})

	require.Len(t, pub.events, 1)
	assert.Equal(t, "audit.nexchat", pub.keys[0])
	env, ok := pub.events[0].(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, "info", env.Payload.Level)
	assert.Equal(t, "sent", env.Payload.Outcome)
	require.NotNil(t, env.UserID)
	assert.Equal(t, "u1", *env.UserID)
	assert.Empty(t, env.TraceID)
}

func TestNilAuditEmitter(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() { emitter.Emit(context.Background(), AuditRecord{Text: "x"}) })
}

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "nexchat-service", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
