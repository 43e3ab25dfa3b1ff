// Package history holds the run transcript and its sqlite persistence.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// LatestKey is the slot holding the most recent transcript.
const LatestKey = "latestHistory"

var ErrNotFound = errors.New("history: not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Item is one transcript entry. An assistant item with Call set is a tool
// request; the matching RoleTool item carries CallID and the observation.
type Item struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Call    *Call  `json:"call,omitempty"`
	CallID  string `json:"callId,omitempty"`
	Tool    string `json:"tool,omitempty"`
}

type Call struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func User(text string) Item      { return Item{Role: RoleUser, Content: text} }
func Assistant(text string) Item { return Item{Role: RoleAssistant, Content: text} }

func ToolCall(text string, c Call) Item {
	return Item{Role: RoleAssistant, Content: text, Call: &c}
}

func ToolResult(callID, tool, observation string) Item {
	return Item{Role: RoleTool, CallID: callID, Tool: tool, Content: observation}
}

// Record is a stored transcript.
type Record struct {
	Key       string
	RunID     string
	Items     []Item
	UpdatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    key TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    items TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// Store persists transcripts in a sqlite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history store path required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the transcript stored under key.
func (s *Store) Save(ctx context.Context, key, runID string, items []Item) error {
	if items == nil {
		items = []Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcripts (key, run_id, items, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			run_id = excluded.run_id,
			items = excluded.items,
			updated_at = excluded.updated_at`,
		key, runID, string(data), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save transcript %s: %w", key, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, key string) (Record, error) {
	var (
		rec     = Record{Key: key}
		data    string
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, items, updated_at FROM transcripts WHERE key = ?`, key,
	).Scan(&rec.RunID, &data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load transcript %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), &rec.Items); err != nil {
		return Record{}, fmt.Errorf("decode transcript %s: %w", key, err)
	}
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, nil
}

// Clear removes the transcript under key. Clearing a missing key is not an
// error.
func (s *Store) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("clear transcript %s: %w", key, err)
	}
	return nil
}
