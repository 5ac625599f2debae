package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harun/standup/pkg/scrum"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	conversation_id TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	members         TEXT NOT NULL,
	root_handle     TEXT NOT NULL DEFAULT '',
	trail_handle    TEXT NOT NULL DEFAULT '',
	trail           TEXT NOT NULL DEFAULT '[]',
	started_by      TEXT NOT NULL DEFAULT '',
	run_id          TEXT NOT NULL DEFAULT '',
	version         INTEGER NOT NULL,
	last_modified   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

// SQLite stores sessions in a single sqlite table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Get implements scrum.Store.
func (s *SQLite) Get(ctx context.Context, conversationID string) (*scrum.Session, error) {
	if err := validateKey(conversationID); err != nil {
		return nil, err
	}

	var (
		r        record
		trail    string
		modified int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, status, members, root_handle, trail_handle, trail,
		       started_by, run_id, version, last_modified
		FROM sessions WHERE conversation_id = ?`, conversationID).
		Scan(&r.ConversationID, &r.Status, &r.Members, &r.RootHandle, &r.TrailHandle, &trail,
			&r.StartedBy, &r.RunID, &r.Version, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scrum.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if err := json.Unmarshal([]byte(trail), &r.Trail); err != nil {
		return nil, fmt.Errorf("failed to decode trail: %w", err)
	}
	r.LastModified = time.UnixMilli(modified).UTC()

	return r.session()
}

// Put implements scrum.Store. The write is a conditional insert or update
// keyed on the version the caller read.
func (s *SQLite) Put(ctx context.Context, sess *scrum.Session) error {
	if err := validateSession(sess); err != nil {
		return err
	}
	r, err := toRecord(sess)
	if err != nil {
		return err
	}
	trail, err := json.Marshal(r.Trail)
	if err != nil {
		return fmt.Errorf("failed to encode trail: %w", err)
	}
	if r.Trail == nil {
		trail = []byte("[]")
	}

	next := sess.Version + 1
	var res sql.Result
	if sess.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO sessions (conversation_id, status, members, root_handle, trail_handle, trail,
			                      started_by, run_id, version, last_modified)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id) DO NOTHING`,
			r.ConversationID, r.Status, r.Members, r.RootHandle, r.TrailHandle, string(trail),
			r.StartedBy, r.RunID, next, r.LastModified.UnixMilli())
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, members = ?, root_handle = ?, trail_handle = ?, trail = ?,
			                    started_by = ?, run_id = ?, version = ?, last_modified = ?
			WHERE conversation_id = ? AND version = ?`,
			r.Status, r.Members, r.RootHandle, r.TrailHandle, string(trail),
			r.StartedBy, r.RunID, next, r.LastModified.UnixMilli(),
			r.ConversationID, sess.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: version %d of %s is stale", scrum.ErrConflict, sess.Version, sess.ConversationID)
	}

	sess.Version = next
	return nil
}

// CountByStatus returns how many sessions are in status.
func (s *SQLite) CountByStatus(ctx context.Context, status scrum.Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
