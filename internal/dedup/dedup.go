// Package dedup suppresses redelivered webhook events within a short window.
package dedup

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard reports whether an event id should be processed. It records the id on the first
// call. An empty id is always processed.
type Guard interface {
	ShouldProcess(ctx context.Context, eventID string) bool
}

// MemoryGuard is a process-local guard. Expired entries are swept on each call.
type MemoryGuard struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryGuard(window time.Duration) *MemoryGuard {
	return &MemoryGuard{window: window, now: time.Now, seen: make(map[string]time.Time)}
}

// WithClock replaces the clock, for tests.
func (g *MemoryGuard) WithClock(now func() time.Time) *MemoryGuard {
	g.now = now
	return g
}

func (g *MemoryGuard) ShouldProcess(_ context.Context, eventID string) bool {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for id, first := range g.seen {
		if now.Sub(first) >= g.window {
			delete(g.seen, id)
		}
	}
	if _, ok := g.seen[eventID]; ok {
		return false
	}
	g.seen[eventID] = now
	return true
}

// Len reports the number of tracked ids.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// RedisGuard shares dedup state between instances with SET NX EX. Redis errors let the
// event through.
type RedisGuard struct {
	rdb    *redis.Client
	prefix string
	window time.Duration
	logger *slog.Logger
}

func NewRedisGuard(rdb *redis.Client, prefix string, window time.Duration, logger *slog.Logger) *RedisGuard {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "lark-mcp-bot:"
	}
	return &RedisGuard{rdb: rdb, prefix: prefix, window: window, logger: logger.With("component", "dedup")}
}

func (g *RedisGuard) ShouldProcess(ctx context.Context, eventID string) bool {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return true
	}
	ok, err := g.rdb.SetNX(ctx, g.prefix+"dedup:"+eventID, time.Now().UnixMilli(), g.window).Result()
	if err != nil {
		g.logger.Warn("dedup check failed, processing event", "event_id", eventID, "error", err)
		return true
	}
	return ok
}
