// Package ledger tracks per-identity usage counters with calendar-month
// reset semantics.
//
// The check/increment sequence is read-modify-write without cross-request
// locking: two concurrent requests on the same key can both observe
// count = limit-1 and both increment, overshooting the limit by up to
// concurrency-1. That race window is accepted as best-effort; stores only
// guarantee that a single write is applied atomically.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// MonthUsage is the archived counter for one calendar month.
type MonthUsage struct {
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Record is the stored usage state for one ledger key.
type Record struct {
	Count     int64                 `json:"count"`
	LastEvent time.Time             `json:"lastEvent"` // zero means no event recorded
	IP        string                `json:"ip,omitempty"`
	Email     string                `json:"email,omitempty"`
	History   map[string]MonthUsage `json:"history,omitempty"`
}

// Store persists records addressed by hierarchical path keys
// (users/{uid}, requests/{ip}). Different keys never contend.
type Store interface {
	// Get returns the record for key; found is false when absent.
	Get(ctx context.Context, key string) (rec Record, found bool, err error)
	// Put writes the full record for key.
	Put(ctx context.Context, key string, rec Record) error
	Close() error
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Count     int64 // stored count after the call
	Remaining int64
	ResetAt   time.Time
}

// Ledger implements the reset/check/increment algorithm over a Store.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a Ledger over a store.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// SetClock overrides the time source; nil restores the default.
func (l *Ledger) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.now = now
}

// Store exposes the backing store.
func (l *Ledger) Store() Store { return l.store }

// CheckAndIncrement applies the monthly reset, denies without mutation when
// the (conceptually reset) count has reached limit, and otherwise persists
// count+1 with the current month archived in history.
func (l *Ledger) CheckAndIncrement(ctx context.Context, key string, limit int64) (Decision, error) {
	return l.apply(ctx, key, limit, 1)
}

// IncrementBy adds a measured amount (token metering) without a limit
// check. It is called strictly after the provider call returns usage.
func (l *Ledger) IncrementBy(ctx context.Context, key string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := l.apply(ctx, key, 0, amount)
	return err
}

// Snapshot reports current usage without consuming quota. When the last
// event falls in an earlier month the reset is persisted, so read-only
// surfaces show a zeroed counter.
func (l *Ledger) Snapshot(ctx context.Context, key string, limit int64) (Decision, error) {
	now := l.now().UTC()
	rec, found, err := l.store.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("ledger: get %s: %w", key, err)
	}
	if found && rolledOver(rec.LastEvent, now) {
		rec.Count = 0
		if err := l.store.Put(ctx, key, rec); err != nil {
			return Decision{}, fmt.Errorf("ledger: persist reset %s: %w", key, err)
		}
	}
	remaining := limit - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   rec.Count < limit,
		Count:     rec.Count,
		Remaining: remaining,
		ResetAt:   firstOfNextMonth(now),
	}, nil
}

// apply implements the shared read-reset-check-write sequence. limit <= 0
// disables the check (unbounded metering).
func (l *Ledger) apply(ctx context.Context, key string, limit, amount int64) (Decision, error) {
	now := l.now().UTC()
	rec, found, err := l.store.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("ledger: get %s: %w", key, err)
	}
	if !found {
		rec = Record{}
	}

	// Conceptual reset: not persisted unless the increment goes through.
	if rolledOver(rec.LastEvent, now) {
		rec.Count = 0
	}

	if limit > 0 && rec.Count >= limit {
		return Decision{
			Allowed:   false,
			Count:     rec.Count,
			Remaining: 0,
			ResetAt:   firstOfNextMonth(now),
		}, nil
	}

	rec.Count += amount
	rec.LastEvent = now
	if rec.History == nil {
		rec.History = make(map[string]MonthUsage)
	}
	rec.History[MonthKey(now)] = MonthUsage{Count: rec.Count, LastUpdated: now}

	if err := l.store.Put(ctx, key, rec); err != nil {
		return Decision{}, fmt.Errorf("ledger: put %s: %w", key, err)
	}

	remaining := int64(0)
	if limit > 0 {
		remaining = limit - rec.Count
		if remaining < 0 {
			remaining = 0
		}
	}
	return Decision{
		Allowed:   true,
		Count:     rec.Count,
		Remaining: remaining,
		ResetAt:   firstOfNextMonth(now),
	}, nil
}

// Annotate stores request metadata (ip/email) alongside the counter,
// mirroring what the counter write records for anonymous keys.
func (l *Ledger) Annotate(ctx context.Context, key, ip, email string) error {
	rec, _, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("ledger: get %s: %w", key, err)
	}
	rec.IP = ip
	rec.Email = email
	if err := l.store.Put(ctx, key, rec); err != nil {
		return fmt.Errorf("ledger: put %s: %w", key, err)
	}
	return nil
}

// rolledOver reports whether last falls outside the calendar month of now.
// Month equality is by (year, month) pair, not elapsed days.
func rolledOver(last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	last = last.UTC()
	return last.Year() != now.Year() || last.Month() != now.Month()
}

func firstOfNextMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// MonthKey formats the history bucket key for a timestamp, e.g. "2024-06".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
