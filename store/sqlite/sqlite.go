// Package sqlite implements store.Store on a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/casualjim/chatwire/messages"
	"github.com/casualjim/chatwire/store"
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	title_locked INTEGER NOT NULL DEFAULT 0,
	provider_id  TEXT NOT NULL,
	model_id     TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	id              TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	model_id        TEXT NOT NULL DEFAULT '',
	images          TEXT NOT NULL DEFAULT '[]',
	created_at      TEXT NOT NULL,
	PRIMARY KEY (conversation_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_seq ON messages(conversation_id, seq);
`

// Memory is the path of a database that lives only as long as the store.
const Memory = ":memory:"

var _ store.Store = (*Store)(nil)

// Store keeps conversations in SQLite. Messages carry a seq column holding
// their position, which is the only ordering the ledger guarantees.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer, and an in-memory database is per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, conv messages.Conversation) error {
	if s.closed.Load() {
		return store.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, title_locked, provider_id, model_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			title_locked = excluded.title_locked,
			provider_id = excluded.provider_id,
			model_id = excluded.model_id,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Title, conv.TitleLocked, conv.ProviderID, conv.ModelID,
		conv.CreatedAt.String(), conv.UpdatedAt.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("failed to clear messages of %s: %w", conv.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (conversation_id, id, seq, role, content, model_id, images, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for seq, m := range conv.Messages {
		images := []byte("[]")
		if len(m.ImageRefs) > 0 {
			if images, err = json.Marshal(m.ImageRefs); err != nil {
				return fmt.Errorf("failed to encode images of %s: %w", m.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, conv.ID, m.ID, seq, string(m.Role), m.Content, m.ModelID, string(images), m.CreatedAt.String()); err != nil {
			return fmt.Errorf("failed to save message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) LoadAll(ctx context.Context) ([]messages.Conversation, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, title_locked, provider_id, model_id, created_at, updated_at
		FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var convs []messages.Conversation
	index := make(map[string]int)
	for rows.Next() {
		var (
			conv             messages.Conversation
			created, updated string
		)
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.TitleLocked, &conv.ProviderID, &conv.ModelID, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if conv.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if conv.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		conv.Messages = []messages.Message{}
		index[conv.ID] = len(convs)
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, id, role, content, model_id, images, created_at
		FROM messages
		ORDER BY conversation_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var (
			m            messages.Message
			role, images string
			created      string
		)
		if err := msgRows.Scan(&m.ConversationID, &m.ID, &role, &m.Content, &m.ModelID, &images, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = messages.Role(role)
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if images != "" && images != "[]" {
			if err := json.Unmarshal([]byte(images), &m.ImageRefs); err != nil {
				return nil, fmt.Errorf("failed to decode images of %s: %w", m.ID, err)
			}
		}

		i, ok := index[m.ConversationID]
		if !ok {
			continue
		}
		convs[i].Messages = append(convs[i].Messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, err
	}

	store.SortByRecent(convs)
	return convs, nil
}

func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if s.closed.Load() {
		return store.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// the cascade only fires on connections with foreign_keys enabled
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages of %s: %w", conversationID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", conversationID, err)
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func parseTime(s string) (strfmt.DateTime, error) {
	t, err := strfmt.ParseDateTime(s)
	if err != nil {
		return strfmt.DateTime{}, errors.Join(fmt.Errorf("invalid timestamp %q", s), err)
	}
	return t, nil
}
