// Package conversation keeps per-chat message history behind a pluggable store.
package conversation

import (
	"context"
	"sort"
	"time"

	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
)

// Store maps a chat id to its ordered history and last-activity time.
// Implementations must be safe for concurrent use; a missing chat is never an error.
type Store interface {
	GetHistory(ctx context.Context, chatID string) ([]llm.Message, error)
	// SetHistory replaces the history and refreshes the timestamp.
	SetHistory(ctx context.Context, chatID string, messages []llm.Message) error
	// Timestamp reports the last update time; ok is false for unknown chats.
	Timestamp(ctx context.Context, chatID string) (t time.Time, ok bool, err error)
	SetTimestamp(ctx context.Context, chatID string, t time.Time) error
	// DeleteHistory removes both history and timestamp.
	DeleteHistory(ctx context.Context, chatID string) error
	// Cleanup removes chats idle for longer than ttl, then evicts the oldest chats beyond
	// the configured maximum. It returns how many chats were removed.
	Cleanup(ctx context.Context, ttl time.Duration) (int, error)
	ChatIDs(ctx context.Context) ([]string, error)
	Close() error
}

// Options shared by every backend.
type Options struct {
	// MaxConversations caps the number of retained chats; 0 disables the cap.
	MaxConversations int
	// TTL is applied as key expiry by backends that support it.
	TTL time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

type chatAge struct {
	id      string
	updated time.Time
}

// overflow returns the ids to evict, oldest first, so that at most limit remain.
func overflow(chats []chatAge, limit int) []string {
	if limit < 0 {
		limit = 0
	}
	if len(chats) <= limit {
		return nil
	}
	sorted := make([]chatAge, len(chats))
	copy(sorted, chats)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].updated.Equal(sorted[j].updated) {
			return sorted[i].id < sorted[j].id
		}
		return sorted[i].updated.Before(sorted[j].updated)
	})
	n := len(sorted) - limit
	out := make([]string, 0, n)
	for _, c := range sorted[:n] {
		out = append(out, c.id)
	}
	return out
}

// Trim keeps the last limit messages. A tool message left at the head without its
// assistant call is dropped too.
func Trim(messages []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(messages) <= limit {
		return messages
	}
	out := messages[len(messages)-limit:]
	for len(out) > 0 && out[0].Role == llm.RoleTool {
		out = out[1:]
	}
	return out
}

// Window returns the most recent n messages without copying.
func Window(messages []llm.Message, n int) []llm.Message {
	if n <= 0 || len(messages) <= n {
		return messages
	}
	out := messages[len(messages)-n:]
	for len(out) > 0 && out[0].Role == llm.RoleTool {
		out = out[1:]
	}
	return out
}
