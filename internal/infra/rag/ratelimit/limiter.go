// Package ratelimit implements rag.RateLimiter as a cache-backed
// fixed-window counter per (identity, path), plus an in-memory fallback
// for when no shared cache is configured. The counting windows are
// coordinated through a Lua script so the increment-and-check is a
// single atomic cache operation across concurrent processes, per the
// teacher's per-IP limiter adapted to a shared-cache identity+path key.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/studyforge/notebook-api/internal/domain/rag"
)

// fixedWindowScript atomically increments a counter, seeding its TTL on
// first use, and returns [newCount, ttlRemainingSeconds].
const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("TTL", KEYS[1])
return {current, ttl}
`

// Valkey is the production fixed-window rate limiter.
type Valkey struct {
	client valkey.Client
}

// NewValkey constructs a Valkey-backed limiter.
func NewValkey(client valkey.Client) *Valkey {
	return &Valkey{client: client}
}

var _ rag.RateLimiter = (*Valkey)(nil)

func (v *Valkey) Allow(ctx context.Context, identity, path string, limit int, window time.Duration) (rag.RateLimitResult, error) {
	key := windowKey(identity, path)
	windowSeconds := int64(window.Seconds())
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	resp := v.client.Do(ctx, v.client.B().Eval().
		Script(fixedWindowScript).
		Numkeys(1).
		Key(key).
		Arg(fmt.Sprintf("%d", windowSeconds)).
		Build())
	arr, err := resp.ToArray()
	if err != nil {
		return rag.RateLimitResult{}, err
	}
	if len(arr) != 2 {
		return rag.RateLimitResult{}, fmt.Errorf("unexpected rate limit script reply")
	}
	current, err := arr[0].ToInt64()
	if err != nil {
		return rag.RateLimitResult{}, err
	}
	ttl, err := arr[1].ToInt64()
	if err != nil {
		return rag.RateLimitResult{}, err
	}
	if ttl < 0 {
		ttl = windowSeconds
	}

	if int(current) > limit {
		return rag.RateLimitResult{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: time.Duration(ttl) * time.Second,
		}, nil
	}
	return rag.RateLimitResult{
		Allowed:    true,
		Limit:      limit,
		Remaining:  limit - int(current),
		RetryAfter: time.Duration(ttl) * time.Second,
	}, nil
}

func windowKey(identity, path string) string {
	return "ratelimit:" + identity + ":" + path
}

// Memory is an in-process fixed-window limiter, used when no shared
// cache is configured. It only coordinates within a single process.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count    int
	expires  time.Time
}

// NewMemory constructs an in-process limiter.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*bucket)}
}

var _ rag.RateLimiter = (*Memory)(nil)

func (m *Memory) Allow(_ context.Context, identity, path string, limit int, window time.Duration) (rag.RateLimitResult, error) {
	key := windowKey(identity, path)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || now.After(b.expires) {
		b = &bucket{count: 0, expires: now.Add(window)}
		m.buckets[key] = b
	}
	b.count++

	retryAfter := b.expires.Sub(now)
	if b.count > limit {
		return rag.RateLimitResult{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retryAfter}, nil
	}
	return rag.RateLimitResult{Allowed: true, Limit: limit, Remaining: limit - b.count, RetryAfter: retryAfter}, nil
}
