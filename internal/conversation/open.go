package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendAuto   = "auto"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config selects and tunes a backend.
type Config struct {
	Backend          string
	RedisURL         string
	RedisKeyPrefix   string
	SQLitePath       string
	TTL              time.Duration
	MaxConversations int
}

// Open picks a backend: an explicit Backend wins, otherwise redis when a URL is set,
// then sqlite when a path is set, else memory. An unreachable redis degrades to memory.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation_store")
	opts := Options{MaxConversations: cfg.MaxConversations, TTL: cfg.TTL}

	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" || backend == BackendAuto {
		switch {
		case cfg.RedisURL != "":
			backend = BackendRedis
		case cfg.SQLitePath != "":
			backend = BackendSQLite
		default:
			backend = BackendMemory
		}
	}

	switch backend {
	case BackendMemory:
		logger.Info("using in-memory conversation store")
		return NewMemoryStore(opts), nil
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite backend selected but SQLITE_PATH is empty")
		}
		store, err := OpenSQLiteStore(cfg.SQLitePath, opts)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite conversation store", "path", cfg.SQLitePath)
		return store, nil
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis backend selected but REDIS_URL is empty")
		}
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			logger.Warn("redis unreachable, falling back to in-memory store", "error", err)
			return NewMemoryStore(opts), nil
		}
		logger.Info("using redis conversation store", "addr", redisOpts.Addr)
		return NewRedisStore(rdb, cfg.RedisKeyPrefix, opts), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
