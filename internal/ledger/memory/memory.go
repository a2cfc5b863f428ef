// Package memory provides an in-process ledger store for tests and
// single-node development runs.
package memory

import (
	"context"
	"sync"

	"github.com/pixlens/pixlens-gateway/internal/ledger"
)

// Store implements ledger.Store with a mutex-guarded map.
type Store struct {
	mu      sync.RWMutex
	records map[string]ledger.Record
}

var _ ledger.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{records: make(map[string]ledger.Record)}
}

// Get returns the record for key.
func (s *Store) Get(_ context.Context, key string) (ledger.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return ledger.Record{}, false, nil
	}
	return cloneRecord(rec), true, nil
}

// Put writes the record for key.
func (s *Store) Put(_ context.Context, key string, rec ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = cloneRecord(rec)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// cloneRecord copies the history map so callers cannot alias stored state.
func cloneRecord(rec ledger.Record) ledger.Record {
	if rec.History == nil {
		return rec
	}
	history := make(map[string]ledger.MonthUsage, len(rec.History))
	for k, v := range rec.History {
		history[k] = v
	}
	rec.History = history
	return rec
}
