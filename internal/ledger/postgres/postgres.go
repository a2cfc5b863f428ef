// Package postgres persists ledger records in PostgreSQL for deployments
// where several gateway instances share one counter store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// register pgx stdlib driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pixlens/pixlens-gateway/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// New connects to the database at dsn and ensures the schema exists.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
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
	count BIGINT NOT NULL DEFAULT 0,
	last_event TIMESTAMPTZ,
	ip TEXT,
	email TEXT
);
CREATE TABLE IF NOT EXISTS usage_history (
	path TEXT NOT NULL,
	month TEXT NOT NULL,
	count BIGINT NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
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
		`SELECT count, last_event, ip, email FROM usage_records WHERE path = $1`, key,
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
		`SELECT month, count, last_updated FROM usage_history WHERE path = $1`, key)
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
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (path) DO UPDATE SET
	count = EXCLUDED.count,
	last_event = EXCLUDED.last_event,
	ip = EXCLUDED.ip,
	email = EXCLUDED.email
`, key, rec.Count, lastEvent, rec.IP, rec.Email); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	for month, usage := range rec.History {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO usage_history (path, month, count, last_updated)
VALUES ($1, $2, $3, $4)
ON CONFLICT (path, month) DO UPDATE SET
	count = EXCLUDED.count,
	last_updated = EXCLUDED.last_updated
`, key, month, usage.Count, usage.LastUpdated.UTC()); err != nil {
			return fmt.Errorf("upsert history %s: %w", month, err)
		}
	}
	return tx.Commit()
}
