package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	_ "modernc.org/sqlite"

	"github.com/shoma-endo/lark-mcp-bot/internal/llm"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	chat_id    TEXT PRIMARY KEY,
	history    TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);`

type conversationRow struct {
	ChatID    string `db:"chat_id"`
	History   string `db:"history"`
	UpdatedAt int64  `db:"updated_at"`
}

// SQLiteStore persists conversations in a local database file. It survives restarts but
// is not shared between hosts.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

func OpenSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to ensure sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time keeps the driver away from SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db, opts: opts}, nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, chatID string) ([]llm.Message, error) {
	var row conversationRow
	err := sqlscan.Get(ctx, s.db, &row, `SELECT chat_id, history, updated_at FROM conversations WHERE chat_id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get history: %w", err)
	}
	var out []llm.Message
	if err := json.Unmarshal([]byte(row.History), &out); err != nil {
		return nil, fmt.Errorf("decode history for chat %s: %w", chatID, err)
	}
	if out == nil {
		out = []llm.Message{}
	}
	return out, nil
}

func (s *SQLiteStore) SetHistory(ctx context.Context, chatID string, messages []llm.Message) error {
	if messages == nil {
		messages = []llm.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO conversations (chat_id, history, updated_at) VALUES (?, ?, ?)
ON CONFLICT(chat_id) DO UPDATE SET history = excluded.history, updated_at = excluded.updated_at`,
		chatID, string(data), s.opts.now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite set history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Timestamp(ctx context.Context, chatID string) (time.Time, bool, error) {
	var updated int64
	err := sqlscan.Get(ctx, s.db, &updated, `SELECT updated_at FROM conversations WHERE chat_id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite get timestamp: %w", err)
	}
	return time.Unix(0, updated), true, nil
}

func (s *SQLiteStore) SetTimestamp(ctx context.Context, chatID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversations (chat_id, updated_at) VALUES (?, ?)
ON CONFLICT(chat_id) DO UPDATE SET updated_at = excluded.updated_at`, chatID, t.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite set timestamp: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteHistory(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("sqlite delete history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ChatIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := sqlscan.Select(ctx, s.db, &ids, `SELECT chat_id FROM conversations`); err != nil {
		return nil, fmt.Errorf("sqlite list chats: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context, ttl time.Duration) (int, error) {
	var removed int64
	if ttl > 0 {
		cutoff := s.opts.now().Add(-ttl).UnixNano()
		res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
		if err != nil {
			return 0, fmt.Errorf("sqlite cleanup expired: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if s.opts.MaxConversations > 0 {
		res, err := s.db.ExecContext(ctx, `
DELETE FROM conversations WHERE chat_id IN (
	SELECT chat_id FROM conversations ORDER BY updated_at DESC, chat_id DESC LIMIT -1 OFFSET ?
)`, s.opts.MaxConversations)
		if err != nil {
			return int(removed), fmt.Errorf("sqlite cleanup overflow: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return int(removed), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
