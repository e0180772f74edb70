package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// PublisherMock satisfies the audit and websocket-event publishers and keeps
// every routing key it was asked to publish to.
type PublisherMock struct {
	mock.Mock

	mu   sync.Mutex
	keys []string
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	m.mu.Lock()
	m.keys = append(m.keys, routingKey)
	m.mu.Unlock()
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// RoutingKeys returns the routing keys published so far, in order.
func (m *PublisherMock) RoutingKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}
