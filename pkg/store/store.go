// Package store persists session metadata (variant and webhook) so sessions
// survive a restart. Message content is never stored.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/wabridge/pkg/session"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned for unknown session records.
var ErrNotFound = errors.New("session record not found")

// Record is one persisted session.
type Record struct {
	ID                string
	Variant           string
	WebhookURL        string
	IgnoreGroupEvents bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Webhook returns the record's webhook config, or nil when none is set.
func (r Record) Webhook() *session.WebhookConfig {
	if r.WebhookURL == "" {
		return nil
	}
	return &session.WebhookConfig{URL: r.WebhookURL, IgnoreGroupEvents: r.IgnoreGroupEvents}
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	variant TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	ignore_group_events INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store is a sqlite-backed session table.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Upsert inserts the session or updates its variant. The webhook of an
// existing record is preserved.
func (s *Store) Upsert(ctx context.Context, id, variant string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, variant, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET variant = excluded.variant, updated_at = excluded.updated_at`,
		id, variant, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", id, err)
	}
	return nil
}

// SetWebhook stores cfg for id; nil clears it.
func (s *Store) SetWebhook(ctx context.Context, id string, cfg *session.WebhookConfig) error {
	url, ignore := "", false
	if cfg != nil {
		url, ignore = cfg.URL, cfg.IgnoreGroupEvents
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET webhook_url = ?, ignore_group_events = ?, updated_at = ? WHERE id = ?",
		url, ignore, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("set webhook for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, variant, webhook_url, ignore_group_events, created_at, updated_at FROM sessions WHERE id = ?", id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// Delete removes a record. Deleting an unknown ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// List returns all records ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, variant, webhook_url, ignore_group_events, created_at, updated_at FROM sessions ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec              Record
		ignore           bool
		created, updated int64
	)
	if err := row.Scan(&rec.ID, &rec.Variant, &rec.WebhookURL, &ignore, &created, &updated); err != nil {
		return Record{}, err
	}
	rec.IgnoreGroupEvents = ignore
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, nil
}
