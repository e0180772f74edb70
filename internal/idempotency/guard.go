// Package idempotency remembers which trigger events were already handled.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

// Guard reports whether a key is seen for the first time. A key is claimed
// by the first caller; later callers get false until the TTL expires.
type Guard interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
}

type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

// OpenRedis parses url and checks the connection.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (g *RedisGuard) FirstSeen(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+key, 1, g.ttl).Result()
}

// MemoryGuard is a process-local Guard. Keys expire after the TTL and are
// swept at most once per TTL, so memory stays bounded by the keys claimed in
// roughly two TTL windows.
type MemoryGuard struct {
	clock     clockwork.Clock
	ttl       time.Duration
	mu        sync.Mutex
	seen      map[string]time.Time
	nextSweep time.Time
}

func NewMemoryGuard(clk clockwork.Clock, ttl time.Duration) *MemoryGuard {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryGuard{clock: clk, ttl: ttl, seen: make(map[string]time.Time), nextSweep: clk.Now().Add(ttl)}
}

func (g *MemoryGuard) FirstSeen(_ context.Context, key string) (bool, error) {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if !now.Before(g.nextSweep) {
		for k, expiry := range g.seen {
			if !now.Before(expiry) {
				delete(g.seen, k)
			}
		}
		g.nextSweep = now.Add(g.ttl)
	}
	if expiry, ok := g.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	g.seen[key] = now.Add(g.ttl)
	return true, nil
}

// Len reports how many keys are held, expired or not.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
