package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
)

const defaultKeyPrefix = "lark-mcp-bot:"

// RedisStore shares conversations between instances. Every write carries the TTL as key
// expiry, so abandoned chats disappear even if Cleanup never runs.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	opts   Options
}

func NewRedisStore(rdb *redis.Client, prefix string, opts Options) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, opts: opts}
}

// Client exposes the connection so the dedup guard can share it.
func (s *RedisStore) Client() *redis.Client { return s.rdb }

func (s *RedisStore) historyKey(chatID string) string { return s.prefix + "history:" + chatID }
func (s *RedisStore) tsKey(chatID string) string      { return s.prefix + "ts:" + chatID }
func (s *RedisStore) chatsKey() string                { return s.prefix + "chats" }

func (s *RedisStore) GetHistory(ctx context.Context, chatID string) ([]llm.Message, error) {
	data, err := s.rdb.Get(ctx, s.historyKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get history: %w", err)
	}
	var out []llm.Message
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode history for chat %s: %w", chatID, err)
	}
	if out == nil {
		out = []llm.Message{}
	}
	return out, nil
}

func (s *RedisStore) SetHistory(ctx context.Context, chatID string, messages []llm.Message) error {
	if messages == nil {
		messages = []llm.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	now := s.opts.now()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.historyKey(chatID), data, s.opts.TTL)
		pipe.Set(ctx, s.tsKey(chatID), strconv.FormatInt(now.UnixMilli(), 10), s.opts.TTL)
		pipe.SAdd(ctx, s.chatsKey(), chatID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set history: %w", err)
	}
	return nil
}

func (s *RedisStore) Timestamp(ctx context.Context, chatID string) (time.Time, bool, error) {
	raw, err := s.rdb.Get(ctx, s.tsKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get timestamp: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse timestamp for chat %s: %w", chatID, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisStore) SetTimestamp(ctx context.Context, chatID string, t time.Time) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tsKey(chatID), strconv.FormatInt(t.UnixMilli(), 10), s.opts.TTL)
		pipe.SAdd(ctx, s.chatsKey(), chatID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set timestamp: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteHistory(ctx context.Context, chatID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.historyKey(chatID), s.tsKey(chatID))
		pipe.SRem(ctx, s.chatsKey(), chatID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete history: %w", err)
	}
	return nil
}

func (s *RedisStore) ChatIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.chatsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list chats: %w", err)
	}
	return ids, nil
}

// Cleanup also prunes set members whose keys already expired.
func (s *RedisStore) Cleanup(ctx context.Context, ttl time.Duration) (int, error) {
	ids, err := s.ChatIDs(ctx)
	if err != nil {
		return 0, err
	}
	now := s.opts.now()
	removed := 0
	live := make([]chatAge, 0, len(ids))
	for _, id := range ids {
		ts, ok, err := s.Timestamp(ctx, id)
		if err != nil {
			return removed, err
		}
		if !ok || (ttl > 0 && now.Sub(ts) > ttl) {
			if err := s.DeleteHistory(ctx, id); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		live = append(live, chatAge{id: id, updated: ts})
	}
	if s.opts.MaxConversations > 0 {
		for _, id := range overflow(live, s.opts.MaxConversations) {
			if err := s.DeleteHistory(ctx, id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
