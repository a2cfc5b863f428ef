// Package sqlite persists ledger records in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/pixlens/pixlens-gateway/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
	path TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0,
	last_event TIMESTAMP,
	ip TEXT,
	email TEXT
);
CREATE TABLE IF NOT EXISTS usage_history (
	path TEXT NOT NULL,
	month TEXT NOT NULL,
	count INTEGER NOT NULL,
	last_updated TIMESTAMP NOT NULL,
	PRIMARY KEY (path, month)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get loads the record and its month history for a path.
func (s *Store) Get(ctx context.Context, key string) (ledger.Record, bool, error) {
	var rec ledger.Record
	var lastEvent sql.NullTime
	var ip, email sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT count, last_event, ip, email FROM usage_records WHERE path = ?`, key,
	).Scan(&rec.Count, &lastEvent, &ip, &email)
	if err == sql.ErrNoRows {
		return ledger.Record{}, false, nil
	}
	if err != nil {
		return ledger.Record{}, false, fmt.Errorf("select record: %w", err)
	}
	if lastEvent.Valid {
		rec.LastEvent = lastEvent.Time.UTC()
	}
	rec.IP = ip.String
	rec.Email = email.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT month, count, last_updated FROM usage_history WHERE path = ?`, key)
	if err != nil {
		return ledger.Record{}, false, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var month string
		var usage ledger.MonthUsage
		var updated time.Time
		if err := rows.Scan(&month, &usage.Count, &updated); err != nil {
			return ledger.Record{}, false, fmt.Errorf("scan history: %w", err)
		}
		usage.LastUpdated = updated.UTC()
		if rec.History == nil {
			rec.History = make(map[string]ledger.MonthUsage)
		}
		rec.History[month] = usage
	}
	if err := rows.Err(); err != nil {
		return ledger.Record{}, false, fmt.Errorf("iterate history: %w", err)
	}
	return rec, true, nil
}

// Put upserts the record and its month history.
func (s *Store) Put(ctx context.Context, key string, rec ledger.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var lastEvent interface{}
	if !rec.LastEvent.IsZero() {
		lastEvent = rec.LastEvent.UTC()
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO usage_records (path, count, last_event, ip, email)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
	count = excluded.count,
	last_event = excluded.last_event,
	ip = excluded.ip,
	email = excluded.email
`, key, rec.Count, lastEvent, rec.IP, rec.Email); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	for month, usage := range rec.History {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO usage_history (path, month, count, last_updated)
VALUES (?, ?, ?, ?)
ON CONFLICT(path, month) DO UPDATE SET
	count = excluded.count,
	last_updated = excluded.last_updated
`, key, month, usage.Count, usage.LastUpdated.UTC()); err != nil {
			return fmt.Errorf("upsert history %s: %w", month, err)
		}
	}
	return tx.Commit()
}
