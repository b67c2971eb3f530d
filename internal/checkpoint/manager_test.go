package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage/memory"
)

func newTestManager() (*Manager, *memory.MemoryStorage) {
	mem := memory.NewMemoryStorage()
	return NewManager(memory.NewCheckpointRepo(mem), nil), mem
}

func TestRecordAndGet(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	cp, err := m.Record(ctx, "session-1", domain.CheckpointTypeReplay, 100, "abc123")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if cp.ID == "" {
		t.Fatal("expected generated checkpoint ID")
	}

	got, err := m.Get(ctx, cp.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected checkpoint, got nil")
	}
	if got.Ledger != 100 || got.StateHash != "abc123" || got.SessionID != "session-1" {
		t.Errorf("unexpected checkpoint: %+v", got)
	}
}

func TestListForSessionOrdersByLedger(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	for _, ledger := range []uint64{300, 100, 200} {
		if _, err := m.Record(ctx, "session-1", domain.CheckpointTypeReplay, ledger, "h"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.Record(ctx, "session-2", domain.CheckpointTypeReplay, 50, "h"); err != nil {
		t.Fatal(err)
	}

	cps, err := m.ListForSession(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(cps))
	}
	for i := 1; i < len(cps); i++ {
		if cps[i].Ledger < cps[i-1].Ledger {
			t.Errorf("checkpoints not in ascending ledger order: %d before %d",
				cps[i-1].Ledger, cps[i].Ledger)
		}
	}
}

func TestLatest(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	latest, err := m.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Fatalf("expected nil on empty store, got %+v", latest)
	}

	m.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := m.Record(ctx, "s1", domain.CheckpointTypeReplay, 100, "h1"); err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }
	if _, err := m.Record(ctx, "s2", domain.CheckpointTypeIngestion, 200, "h2"); err != nil {
		t.Fatal(err)
	}

	latest, err = m.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Ledger != 200 {
		t.Fatalf("expected latest at ledger 200, got %+v", latest)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ages := []time.Duration{-40 * 24 * time.Hour, -10 * 24 * time.Hour, -1 * time.Hour}
	for i, age := range ages {
		created := base.Add(age)
		m.now = func() time.Time { return created }
		if _, err := m.Record(ctx, "s1", domain.CheckpointTypeReplay, uint64(100+i), "h"); err != nil {
			t.Fatal(err)
		}
	}

	m.now = func() time.Time { return base }
	deleted, err := m.CleanupOlderThan(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	remaining, err := m.ListForSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining, got %d", len(remaining))
	}
}
