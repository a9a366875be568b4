// Package guard records which alert keys have already been dispatched so a
// retried or duplicated hand-off cannot notify caregivers twice.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "safezone:"

// RedisGuard claims keys with SET NX and a TTL so claims survive restarts and
// are shared between replicas.
type RedisGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisGuard(client redis.Cmdable, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

// Claim returns true when the caller is the first to claim key.
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim alert key: %w", err)
	}
	return ok, nil
}

// InMemoryGuard is the single-process fallback used when Redis is not
// configured.
type InMemoryGuard struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	claimed map[string]time.Time
}

func NewInMemoryGuard(ttl time.Duration) *InMemoryGuard {
	return &InMemoryGuard{
		ttl:     ttl,
		now:     time.Now,
		claimed: make(map[string]time.Time),
	}
}

func (g *InMemoryGuard) Claim(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expires, ok := g.claimed[key]; ok && (g.ttl <= 0 || now.Before(expires)) {
		return false, nil
	}
	g.claimed[key] = now.Add(g.ttl)
	g.evictExpired(now)
	return true, nil
}

func (g *InMemoryGuard) evictExpired(now time.Time) {
	if g.ttl <= 0 {
		return
	}
	for k, expires := range g.claimed {
		if !now.Before(expires) {
			delete(g.claimed, k)
		}
	}
}
