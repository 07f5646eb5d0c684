package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
)

type record struct {
	history []llm.Message
	updated time.Time
}

// MemoryStore keeps conversations in process memory. Single instance only.
type MemoryStore struct {
	opts Options

	mu    sync.RWMutex
	chats map[string]*record
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts, chats: make(map[string]*record)}
}

func (s *MemoryStore) GetHistory(_ context.Context, chatID string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.chats[chatID]
	if !ok {
		return []llm.Message{}, nil
	}
	return llm.CloneMessages(r.history), nil
}

func (s *MemoryStore) SetHistory(_ context.Context, chatID string, messages []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.chats[chatID]
	if !ok {
		r = &record{}
		s.chats[chatID] = r
	}
	r.history = llm.CloneMessages(messages)
	r.updated = s.opts.now()
	if !ok {
		s.evictLocked(chatID)
	}
	return nil
}

func (s *MemoryStore) Timestamp(_ context.Context, chatID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.chats[chatID]
	if !ok {
		return time.Time{}, false, nil
	}
	return r.updated, true, nil
}

func (s *MemoryStore) SetTimestamp(_ context.Context, chatID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.chats[chatID]
	if !ok {
		r = &record{}
		s.chats[chatID] = r
	}
	r.updated = t
	return nil
}

func (s *MemoryStore) DeleteHistory(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	return nil
}

func (s *MemoryStore) Cleanup(_ context.Context, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	if ttl > 0 {
		now := s.opts.now()
		for id, r := range s.chats {
			if now.Sub(r.updated) > ttl {
				delete(s.chats, id)
				removed++
			}
		}
	}
	removed += s.evictLocked("")
	return removed, nil
}

// evictLocked enforces MaxConversations. keep is never evicted.
func (s *MemoryStore) evictLocked(keep string) int {
	limit := s.opts.MaxConversations
	if limit <= 0 || len(s.chats) <= limit {
		return 0
	}
	ages := make([]chatAge, 0, len(s.chats))
	for id, r := range s.chats {
		if keep != "" && id == keep {
			continue
		}
		ages = append(ages, chatAge{id: id, updated: r.updated})
	}
	if keep != "" {
		limit--
	}
	evict := overflow(ages, limit)
	for _, id := range evict {
		delete(s.chats, id)
	}
	return len(evict)
}

func (s *MemoryStore) ChatIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.chats))
	for id := range s.chats {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }
