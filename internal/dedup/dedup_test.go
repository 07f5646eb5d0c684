package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestMemoryGuard_Window(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	g := NewMemoryGuard(5 * time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	assert.True(t, g.ShouldProcess(ctx, "evt-1"))
	assert.False(t, g.ShouldProcess(ctx, "evt-1"))
	assert.True(t, g.ShouldProcess(ctx, "evt-2"))

	now = now.Add(4 * time.Minute)
	assert.False(t, g.ShouldProcess(ctx, "evt-1"))

	now = now.Add(2 * time.Minute)
	assert.True(t, g.ShouldProcess(ctx, "evt-1"))
	// evt-2 swept lazily
	assert.Equal(t, 1, g.Len())
}

func TestMemoryGuard_EmptyIDAlwaysProcessed(t *testing.T) {
	g := NewMemoryGuard(time.Minute)
	ctx := context.Background()
	assert.True(t, g.ShouldProcess(ctx, ""))
	assert.True(t, g.ShouldProcess(ctx, "  "))
	assert.Equal(t, 0, g.Len())
}

func TestMemoryGuard_Concurrent(t *testing.T) {
	g := NewMemoryGuard(time.Minute)
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.ShouldProcess(context.Background(), "same") {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}

func TestRedisGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	g := NewRedisGuard(rdb, "test:", 5*time.Minute, nil)
	ctx := context.Background()

	assert.True(t, g.ShouldProcess(ctx, "evt-1"))
	assert.False(t, g.ShouldProcess(ctx, "evt-1"))
	assert.True(t, g.ShouldProcess(ctx, ""))

	// a second instance sharing the cache agrees
	other := NewRedisGuard(rdb, "test:", 5*time.Minute, nil)
	assert.False(t, other.ShouldProcess(ctx, "evt-1"))

	mr.FastForward(6 * time.Minute)
	assert.True(t, g.ShouldProcess(ctx, "evt-1"))
}

func TestRedisGuard_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	g := NewRedisGuard(rdb, "", time.Minute, nil)
	mr.Close()

	assert.True(t, g.ShouldProcess(context.Background(), "evt-1"))
	assert.True(t, g.ShouldProcess(context.Background(), "evt-1"))
}
