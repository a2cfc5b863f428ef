package memory

import (
	"context"
	"testing"
	"time"

	"github.com/pixlens/pixlens-gateway/internal/ledger"
)

func TestGetPut(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, found, _ := s.Get(ctx, "users/u1"); found {
		t.Fatal("empty store reported a record")
	}

	rec := ledger.Record{
		Count:     2,
		LastEvent: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		History:   map[string]ledger.MonthUsage{"2024-06": {Count: 2}},
	}
	if err := s.Put(ctx, "users/u1", rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := s.Get(ctx, "users/u1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if got.Count != 2 || got.History["2024-06"].Count != 2 {
		t.Errorf("record = %+v", got)
	}
}

func TestHistoryIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	rec := ledger.Record{History: map[string]ledger.MonthUsage{"2024-06": {Count: 1}}}
	s.Put(ctx, "users/u1", rec)

	// Mutating the caller's map must not leak into the store.
	rec.History["2024-06"] = ledger.MonthUsage{Count: 99}

	got, _, _ := s.Get(ctx, "users/u1")
	if got.History["2024-06"].Count != 1 {
		t.Errorf("stored history mutated through caller map: %+v", got.History)
	}

	// Nor must mutating a fetched record.
	got.History["2024-06"] = ledger.MonthUsage{Count: 42}
	again, _, _ := s.Get(ctx, "users/u1")
	if again.History["2024-06"].Count != 1 {
		t.Errorf("stored history mutated through fetched record: %+v", again.History)
	}
}
