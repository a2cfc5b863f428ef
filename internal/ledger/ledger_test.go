package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mapStore is a minimal in-package store so the ledger tests do not import
// the memory backend.
type mapStore struct {
	records map[string]Record
	getErr  error
	putErr  error
}

func newMapStore() *mapStore {
	return &mapStore{records: make(map[string]Record)}
}

func (s *mapStore) Get(_ context.Context, key string) (Record, bool, error) {
	if s.getErr != nil {
		return Record{}, false, s.getErr
	}
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *mapStore) Put(_ context.Context, key string, rec Record) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.records[key] = rec
	return nil
}

func (s *mapStore) Close() error { return nil }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCheckAndIncrement_FirstUse(t *testing.T) {
	store := newMapStore()
	l := New(store)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	l.SetClock(fixedClock(now))

	d, err := l.CheckAndIncrement(context.Background(), "users/u1", 5)
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if !d.Allowed {
		t.Fatal("first use should be allowed")
	}
	if d.Count != 1 {
		t.Errorf("count = %d, want 1", d.Count)
	}
	if d.Remaining != 4 {
		t.Errorf("remaining = %d, want 4", d.Remaining)
	}
	want := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	if !d.ResetAt.Equal(want) {
		t.Errorf("resetAt = %v, want %v", d.ResetAt, want)
	}

	rec := store.records["users/u1"]
	if rec.Count != 1 {
		t.Errorf("stored count = %d, want 1", rec.Count)
	}
	if rec.History[MonthKey(now)].Count != 1 {
		t.Errorf("history count = %d, want 1", rec.History[MonthKey(now)].Count)
	}
}

func TestCheckAndIncrement_DenyAtLimit(t *testing.T) {
	store := newMapStore()
	l := New(store)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	l.SetClock(fixedClock(now))

	store.records["users/u1"] = Record{Count: 5, LastEvent: now.Add(-time.Hour)}

	d, err := l.CheckAndIncrement(context.Background(), "users/u1", 5)
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if d.Allowed {
		t.Fatal("request at limit should be denied")
	}
	if d.Count != 5 {
		t.Errorf("count = %d, want 5", d.Count)
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}

	// Denial must not mutate the record.
	rec := store.records["users/u1"]
	if rec.Count != 5 {
		t.Errorf("stored count changed on deny: %d", rec.Count)
	}
	if !rec.LastEvent.Equal(now.Add(-time.Hour)) {
		t.Error("lastEvent changed on deny")
	}
}

func TestCheckAndIncrement_MonthRollover(t *testing.T) {
	store := newMapStore()
	l := New(store)
	may := time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC)
	june := time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC)

	// Exhausted in May.
	store.records["users/u1"] = Record{Count: 300, LastEvent: may}

	l.SetClock(fixedClock(june))
	d, err := l.CheckAndIncrement(context.Background(), "users/u1", 300)
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if !d.Allowed {
		t.Fatal("first request of the new month should be allowed")
	}
	if d.Count != 1 {
		t.Errorf("count after rollover = %d, want 1", d.Count)
	}
	if store.records["users/u1"].Count != 1 {
		t.Errorf("stored count after rollover = %d, want 1", store.records["users/u1"].Count)
	}
}

func TestRolledOver_YearBoundary(t *testing.T) {
	dec := time.Date(2023, 12, 15, 0, 0, 0, 0, time.UTC)
	jan := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if !rolledOver(dec, jan) {
		t.Error("December to January must roll over")
	}
	// Same month, different day: no rollover.
	if rolledOver(jan, jan.AddDate(0, 0, 20)) {
		t.Error("same calendar month must not roll over")
	}
	// Same month number one year later: rollover.
	if !rolledOver(jan, jan.AddDate(1, 0, 0)) {
		t.Error("same month a year later must roll over")
	}
}

func TestIncrementBy(t *testing.T) {
	store := newMapStore()
	l := New(store)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	l.SetClock(fixedClock(now))

	if err := l.IncrementBy(context.Background(), "users/u1/tokens", 1500); err != nil {
		t.Fatalf("IncrementBy: %v", err)
	}
	if err := l.IncrementBy(context.Background(), "users/u1/tokens", 500); err != nil {
		t.Fatalf("IncrementBy: %v", err)
	}
	if got := store.records["users/u1/tokens"].Count; got != 2000 {
		t.Errorf("count = %d, want 2000", got)
	}

	// Zero and negative amounts are no-ops.
	if err := l.IncrementBy(context.Background(), "users/u1/tokens", 0); err != nil {
		t.Fatalf("IncrementBy(0): %v", err)
	}
	if err := l.IncrementBy(context.Background(), "users/u1/tokens", -5); err != nil {
		t.Fatalf("IncrementBy(-5): %v", err)
	}
	if got := store.records["users/u1/tokens"].Count; got != 2000 {
		t.Errorf("count after no-op increments = %d, want 2000", got)
	}
}

func TestSnapshot_PersistsRollover(t *testing.T) {
	store := newMapStore()
	l := New(store)
	may := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	june := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	store.records["users/u1"] = Record{Count: 4, LastEvent: may}

	l.SetClock(fixedClock(june))
	d, err := l.Snapshot(context.Background(), "users/u1", 5)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if d.Count != 0 {
		t.Errorf("count = %d, want 0 after rollover", d.Count)
	}
	if d.Remaining != 5 {
		t.Errorf("remaining = %d, want 5", d.Remaining)
	}
	// Snapshot persists the reset so read-only clients agree with the
	// next metered request.
	if store.records["users/u1"].Count != 0 {
		t.Errorf("stored count = %d, want 0", store.records["users/u1"].Count)
	}
}

func TestSnapshot_DoesNotConsume(t *testing.T) {
	store := newMapStore()
	l := New(store)
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	l.SetClock(fixedClock(now))

	store.records["users/u1"] = Record{Count: 3, LastEvent: now.Add(-time.Hour)}

	for i := 0; i < 3; i++ {
		d, err := l.Snapshot(context.Background(), "users/u1", 5)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if d.Count != 3 || d.Remaining != 2 {
			t.Errorf("snapshot %d: count=%d remaining=%d, want 3/2", i, d.Count, d.Remaining)
		}
	}
}

func TestAnnotate(t *testing.T) {
	store := newMapStore()
	l := New(store)
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	l.SetClock(fixedClock(now))

	if _, err := l.CheckAndIncrement(context.Background(), "requests/1_2_3_4", 10); err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if err := l.Annotate(context.Background(), "requests/1_2_3_4", "1.2.3.4", "a@b.com"); err != nil {
		t.Fatalf("Annotate: %v", err)
	}

	rec := store.records["requests/1_2_3_4"]
	if rec.IP != "1.2.3.4" || rec.Email != "a@b.com" {
		t.Errorf("annotation not stored: ip=%q email=%q", rec.IP, rec.Email)
	}
	if rec.Count != 1 {
		t.Errorf("annotation clobbered count: %d", rec.Count)
	}
}

func TestApply_StoreErrors(t *testing.T) {
	store := newMapStore()
	store.getErr = errors.New("backend down")
	l := New(store)

	if _, err := l.CheckAndIncrement(context.Background(), "users/u1", 5); err == nil {
		t.Fatal("expected error from failing store")
	}

	store.getErr = nil
	store.putErr = errors.New("write failed")
	if _, err := l.CheckAndIncrement(context.Background(), "users/u1", 5); err == nil {
		t.Fatal("expected error from failing put")
	}
}
