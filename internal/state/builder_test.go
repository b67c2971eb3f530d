package state

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage/memory"
)

func submitEvent(ledger uint64, epoch int, cid, submitter string) *domain.ContractEvent {
	return &domain.ContractEvent{
		LedgerSequence: ledger,
		TxHash:         "tx",
		EventType:      "snapshot_submitted",
		Payload: map[string]any{
			"epoch":        float64(epoch),
			"snapshot_cid": cid,
			"submitter":    submitter,
		},
	}
}

func verifyEvent(ledger uint64, epoch int, verifier string, valid bool) *domain.ContractEvent {
	return &domain.ContractEvent{
		LedgerSequence: ledger,
		TxHash:         "tx",
		EventType:      "snapshot_verified",
		Payload: map[string]any{
			"epoch":    float64(epoch),
			"verifier": verifier,
			"valid":    valid,
		},
	}
}

func TestApplyBuildsState(t *testing.T) {
	b := NewBuilder(nil)

	events := []*domain.ContractEvent{
		submitEvent(100, 1, "cid-1", "alice"),
		verifyEvent(101, 1, "bob", true),
		{
			LedgerSequence: 102,
			EventType:      "epoch_finalized",
			Payload:        map[string]any{"epoch": float64(1)},
		},
		{
			LedgerSequence: 103,
			EventType:      "metadata_updated",
			Payload:        map[string]any{"key": "version", "value": "2"},
		},
	}

	for i, ev := range events {
		result, err := b.Apply(ev)
		if err != nil {
			t.Fatalf("event %d: unexpected error: %v", i, err)
		}
		if result != Applied {
			t.Fatalf("event %d: expected Applied, got %v", i, result)
		}
	}

	st := b.State()
	if st.Ledger != 103 {
		t.Errorf("expected ledger 103, got %d", st.Ledger)
	}
	snap, ok := st.Snapshots["1"]
	if !ok {
		t.Fatal("expected snapshot for epoch 1")
	}
	if snap.CID != "cid-1" || snap.Submitter != "alice" || !snap.Finalized {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	ver, ok := st.Verifications["1:bob"]
	if !ok {
		t.Fatal("expected verification for epoch 1 by bob")
	}
	if !ver.Valid {
		t.Error("expected verification valid")
	}
	if st.Metadata["version"] != "2" {
		t.Errorf("expected metadata version=2, got %q", st.Metadata["version"])
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	b := NewBuilder(nil)

	ev := submitEvent(100, 1, "cid-1", "alice")
	if result, err := b.Apply(ev); err != nil || result != Applied {
		t.Fatalf("first apply: result=%v err=%v", result, err)
	}

	hashBefore, err := Hash(b.State())
	if err != nil {
		t.Fatal(err)
	}

	result, err := b.Apply(ev)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if result != SkippedDuplicate {
		t.Fatalf("expected SkippedDuplicate, got %v", result)
	}

	hashAfter, err := Hash(b.State())
	if err != nil {
		t.Fatal(err)
	}
	if hashBefore != hashAfter {
		t.Error("duplicate apply changed the state hash")
	}
}

func TestApplySkipsUnknownKind(t *testing.T) {
	b := NewBuilder(nil)

	result, err := b.Apply(&domain.ContractEvent{
		LedgerSequence: 100,
		EventType:      "governance_vote",
		Payload:        map[string]any{"anything": "goes"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != SkippedUnknown {
		t.Fatalf("expected SkippedUnknown, got %v", result)
	}
	if b.Ledger() != 0 {
		t.Errorf("skipped event should not advance ledger, got %d", b.Ledger())
	}
}

func TestApplyMissingFieldIsFatal(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"no epoch", map[string]any{"snapshot_cid": "c", "submitter": "s"}},
		{"no cid", map[string]any{"epoch": float64(1), "submitter": "s"}},
		{"no submitter", map[string]any{"epoch": float64(1), "snapshot_cid": "c"}},
		{"epoch wrong type", map[string]any{"epoch": "one", "snapshot_cid": "c", "submitter": "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(nil)
			_, err := b.Apply(&domain.ContractEvent{
				LedgerSequence: 100,
				EventType:      "snapshot_submitted",
				Payload:        tt.payload,
			})
			if !errors.Is(err, ErrMissingField) {
				t.Fatalf("expected ErrMissingField, got %v", err)
			}
		})
	}
}

func TestApplyRejectsLedgerRegression(t *testing.T) {
	b := NewBuilder(nil)
	if _, err := b.Apply(submitEvent(200, 1, "cid", "alice")); err != nil {
		t.Fatal(err)
	}

	_, err := b.Apply(submitEvent(150, 2, "cid2", "bob"))
	if !errors.Is(err, ErrLedgerRegression) {
		t.Fatalf("expected ErrLedgerRegression, got %v", err)
	}
}

func TestHashIsDeterministic(t *testing.T) {
	build := func() *ApplicationState {
		b := NewBuilder(nil)
		events := []*domain.ContractEvent{
			submitEvent(100, 1, "cid-1", "alice"),
			submitEvent(110, 2, "cid-2", "bob"),
			verifyEvent(111, 1, "carol", true),
			verifyEvent(112, 2, "carol", false),
		}
		for _, ev := range events {
			if _, err := b.Apply(ev); err != nil {
				t.Fatal(err)
			}
		}
		return b.State()
	}

	h1, err := Hash(build())
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Hash(build())
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("same event sequence produced different hashes: %s vs %s", h1, h2)
	}

	// Independent events at the same ledger hash identically regardless
	// of fold order.
	fold := func(events ...*domain.ContractEvent) string {
		b := NewBuilder(nil)
		for _, ev := range events {
			if _, err := b.Apply(ev); err != nil {
				t.Fatal(err)
			}
		}
		h, err := Hash(b.State())
		if err != nil {
			t.Fatal(err)
		}
		return h
	}
	ev1 := verifyEvent(120, 1, "carol", true)
	ev2 := verifyEvent(120, 1, "dave", true)
	if fold(ev1, ev2) != fold(ev2, ev1) {
		t.Error("fold order of independent events changed the hash")
	}

	// A different sequence must hash differently.
	b := NewBuilder(nil)
	if _, err := b.Apply(submitEvent(100, 1, "cid-other", "alice")); err != nil {
		t.Fatal(err)
	}
	h3, err := Hash(b.State())
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Error("different states produced the same hash")
	}
}

func TestStorePersistAndLoad(t *testing.T) {
	mem := memory.NewMemoryStorage()
	store := NewStore(memory.NewStateRepo(mem))
	ctx := context.Background()

	b := NewBuilder(nil)
	if _, err := b.Apply(submitEvent(100, 1, "cid-1", "alice")); err != nil {
		t.Fatal(err)
	}

	savedHash, err := store.Persist(ctx, b.State())
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	loaded, err := store.Load(ctx, 100)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	loadedHash, err := Hash(loaded)
	if err != nil {
		t.Fatal(err)
	}
	if loadedHash != savedHash {
		t.Errorf("loaded state hash %s != saved hash %s", loadedHash, savedHash)
	}
	if loaded.Snapshots["1"].CID != "cid-1" {
		t.Errorf("loaded state lost snapshot data: %+v", loaded.Snapshots)
	}
}

func TestStoreLoadRejectsTamperedHash(t *testing.T) {
	mem := memory.NewMemoryStorage()
	store := NewStore(memory.NewStateRepo(mem))
	ctx := context.Background()

	b := NewBuilder(nil)
	if _, err := b.Apply(submitEvent(100, 1, "cid-1", "alice")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Persist(ctx, b.State()); err != nil {
		t.Fatal(err)
	}

	mem.TamperStateHash(100, "deadbeef")

	if _, err := store.Load(ctx, 100); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
}

func TestStoreVerify(t *testing.T) {
	mem := memory.NewMemoryStorage()
	store := NewStore(memory.NewStateRepo(mem))
	ctx := context.Background()

	b := NewBuilder(nil)
	if _, err := b.Apply(submitEvent(100, 1, "cid-1", "alice")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Persist(ctx, b.State()); err != nil {
		t.Fatal(err)
	}

	if err := store.Verify(ctx, b.State()); err != nil {
		t.Fatalf("verify against own snapshot: %v", err)
	}

	mem.TamperStateHash(100, "deadbeef")
	if err := store.Verify(ctx, b.State()); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch after tamper, got %v", err)
	}
}
