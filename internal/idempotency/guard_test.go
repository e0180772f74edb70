package idempotency

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard(clockwork.NewFakeClock(), time.Hour)
	ctx := context.Background()

	first, err := g.FirstSeen(ctx, "ev-1")
	assert.NoError(t, err)
	assert.True(t, first)

	again, _ := g.FirstSeen(ctx, "ev-1")
	assert.False(t, again)

	other, _ := g.FirstSeen(ctx, "ev-2")
	assert.True(t, other)
}

func TestMemoryGuardExpiresKeys(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	g := NewMemoryGuard(clk, time.Minute)
	ctx := context.Background()

	first, _ := g.FirstSeen(ctx, "ev-1")
	assert.True(t, first)

	clk.Advance(30 * time.Second)
	again, _ := g.FirstSeen(ctx, "ev-1")
	assert.False(t, again)

	clk.Advance(31 * time.Second)
	afterTTL, _ := g.FirstSeen(ctx, "ev-1")
	assert.True(t, afterTTL)
}

func TestMemoryGuardSweepsExpiredKeys(t *testing.T) {
	clk := clockwork.NewFakeClock()
	g := NewMemoryGuard(clk, time.Minute)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, _ = g.FirstSeen(ctx, fmt.Sprintf("typing-%d", i))
	}
	assert.Equal(t, 100, g.Len())

	clk.Advance(2 * time.Minute)
	_, _ = g.FirstSeen(ctx, "fresh")
	assert.Equal(t, 1, g.Len())
}
