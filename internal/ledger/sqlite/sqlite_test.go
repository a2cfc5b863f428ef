package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pixlens/pixlens-gateway/internal/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.Get(context.Background(), "users/absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("absent key reported found")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	rec := ledger.Record{
		Count:     7,
		LastEvent: now,
		IP:        "1.2.3.4",
		Email:     "a@b.com",
		History: map[string]ledger.MonthUsage{
			"2024-05": {Count: 30, LastUpdated: now.AddDate(0, -1, 0)},
			"2024-06": {Count: 7, LastUpdated: now},
		},
	}
	if err := s.Put(ctx, "requests/1_2_3_4", rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := s.Get(ctx, "requests/1_2_3_4")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("record not found after Put")
	}
	if got.Count != 7 || got.IP != "1.2.3.4" || got.Email != "a@b.com" {
		t.Errorf("record = %+v", got)
	}
	if !got.LastEvent.Equal(now) {
		t.Errorf("lastEvent = %v, want %v", got.LastEvent, now)
	}
	if len(got.History) != 2 || got.History["2024-05"].Count != 30 {
		t.Errorf("history = %+v", got.History)
	}
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	if err := s.Put(ctx, "users/u1", ledger.Record{Count: 1, LastEvent: now}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "users/u1", ledger.Record{
		Count:     2,
		LastEvent: now.Add(time.Minute),
		History:   map[string]ledger.MonthUsage{"2024-06": {Count: 2, LastUpdated: now.Add(time.Minute)}},
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, _, err := s.Get(ctx, "users/u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Count != 2 {
		t.Errorf("count = %d, want 2", got.Count)
	}
	if got.History["2024-06"].Count != 2 {
		t.Errorf("history = %+v", got.History)
	}
}

func TestKeysIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "users/u1", ledger.Record{Count: 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "users/u1/tokens", ledger.Record{Count: 999}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, _, _ := s.Get(ctx, "users/u1")
	if got.Count != 3 {
		t.Errorf("users/u1 count = %d, want 3", got.Count)
	}
	got, _, _ = s.Get(ctx, "users/u1/tokens")
	if got.Count != 999 {
		t.Errorf("users/u1/tokens count = %d, want 999", got.Count)
	}
}

func TestLedgerOverSQLite(t *testing.T) {
	s := newTestStore(t)
	l := ledger.New(s)
	june := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return june })
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.CheckAndIncrement(ctx, "users/u1", 3)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if !d.Allowed || d.Count != int64(i) {
			t.Fatalf("increment %d: %+v", i, d)
		}
	}

	d, err := l.CheckAndIncrement(ctx, "users/u1", 3)
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if d.Allowed {
		t.Fatal("4th request should be denied")
	}

	// New month resets through the persisted store.
	l.SetClock(func() time.Time { return june.AddDate(0, 1, 0) })
	d, err = l.CheckAndIncrement(ctx, "users/u1", 3)
	if err != nil {
		t.Fatalf("CheckAndIncrement: %v", err)
	}
	if !d.Allowed || d.Count != 1 {
		t.Errorf("after rollover: %+v", d)
	}
}
