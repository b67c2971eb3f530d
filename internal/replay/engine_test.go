package replay

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/ledgerflow/internal/checkpoint"
	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage"
	"github.com/vietddude/ledgerflow/internal/infra/storage/memory"
	"github.com/vietddude/ledgerflow/internal/state"
)

type fixture struct {
	mem    *memory.MemoryStorage
	engine *Engine
}

func newFixture() *fixture {
	mem := memory.NewMemoryStorage()
	return &fixture{
		mem: mem,
		engine: NewEngine(EngineConfig{
			Events:      memory.NewEventRepo(mem),
			Ledgers:     memory.NewLedgerRepo(mem),
			Sessions:    memory.NewSessionRepo(mem),
			Checkpoints: checkpoint.NewManager(memory.NewCheckpointRepo(mem), nil),
			States:      state.NewStore(memory.NewStateRepo(mem)),
		}),
	}
}

// seedEvents stores one snapshot_submitted event per given ledger, each with
// a distinct epoch, and a ledger row so open-ended ranges resolve.
func (f *fixture) seedEvents(t *testing.T, ledgers ...uint64) {
	t.Helper()
	ctx := context.Background()
	events := memory.NewEventRepo(f.mem)
	ledgerRepo := memory.NewLedgerRepo(f.mem)

	for _, seq := range ledgers {
		if err := ledgerRepo.InsertIfAbsent(ctx, &domain.LedgerRecord{
			Sequence: seq,
			Hash:     fmt.Sprintf("h-%d", seq),
		}); err != nil {
			t.Fatal(err)
		}
		if err := events.InsertIfAbsent(ctx, &domain.ContractEvent{
			LedgerSequence: seq,
			TxHash:         fmt.Sprintf("tx-%d", seq),
			EventIndex:     0,
			ContractID:     "contract-1",
			EventType:      "snapshot_submitted",
			Network:        "testnet",
			Payload: map[string]any{
				"epoch":        float64(seq),
				"snapshot_cid": fmt.Sprintf("cid-%d", seq),
				"submitter":    "alice",
			},
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func fullConfig(batch int) domain.ReplayConfig {
	return domain.ReplayConfig{
		Mode:      domain.ReplayModeFull,
		Range:     domain.ReplayRange{Kind: domain.RangeAll},
		BatchSize: batch,
	}
}

func TestFullReplayCompletes(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 30, 60, 90)
	ctx := context.Background()

	meta, err := f.engine.Run(ctx, fullConfig(50))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if meta.Status != domain.ReplayStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", meta.Status, meta.Error)
	}
	if meta.EventsApplied != 4 {
		t.Errorf("expected 4 events applied, got %d", meta.EventsApplied)
	}
	if meta.EndedAt == nil {
		t.Error("expected ended_at set")
	}

	// Checkpoints land at the last folded ledger of each chunk.
	cps, err := f.engine.cfg.Checkpoints.ListForSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(cps))
	}
	if cps[0].Ledger != 30 || cps[1].Ledger != 90 {
		t.Errorf("unexpected checkpoint ledgers: %d, %d", cps[0].Ledger, cps[1].Ledger)
	}

	// The persisted snapshot is restorable and hash-consistent.
	st, err := f.engine.cfg.States.Load(ctx, 90)
	if err != nil {
		t.Fatalf("load final state: %v", err)
	}
	if len(st.Snapshots) != 4 {
		t.Errorf("expected 4 snapshots in state, got %d", len(st.Snapshots))
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 30, 60, 90)
	ctx := context.Background()

	run := func() string {
		meta, err := f.engine.Run(ctx, fullConfig(50))
		if err != nil {
			t.Fatal(err)
		}
		if meta.Status != domain.ReplayStatusCompleted {
			t.Fatalf("expected completed, got %s", meta.Status)
		}
		cps, err := f.engine.cfg.Checkpoints.ListForSession(ctx, meta.SessionID)
		if err != nil {
			t.Fatal(err)
		}
		return cps[len(cps)-1].StateHash
	}

	h1 := run()
	h2 := run()
	if h1 != h2 {
		t.Errorf("two replays over identical events hashed differently: %s vs %s", h1, h2)
	}
}

func TestIncrementalResumesFromLatestCheckpoint(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 30)
	ctx := context.Background()

	first, err := f.engine.Run(ctx, fullConfig(100))
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != domain.ReplayStatusCompleted {
		t.Fatalf("full run: %s (%s)", first.Status, first.Error)
	}

	// New history arrives after the checkpoint.
	f.seedEvents(t, 60, 90)

	meta, err := f.engine.Run(ctx, domain.ReplayConfig{
		Mode:      domain.ReplayModeIncremental,
		Range:     domain.ReplayRange{Kind: domain.RangeAll},
		BatchSize: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != domain.ReplayStatusCompleted {
		t.Fatalf("incremental run: %s (%s)", meta.Status, meta.Error)
	}
	if meta.StartLedger != 31 {
		t.Errorf("expected start after checkpoint at 31, got %d", meta.StartLedger)
	}
	if meta.EventsApplied != 2 {
		t.Errorf("expected 2 new events applied, got %d", meta.EventsApplied)
	}

	// The resumed state carries the full history.
	st, err := f.engine.cfg.States.Load(ctx, 90)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Snapshots) != 4 {
		t.Errorf("expected 4 snapshots after resume, got %d", len(st.Snapshots))
	}
}

func TestReplayFromCheckpoint(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 30, 60, 90)
	ctx := context.Background()

	first, err := f.engine.Run(ctx, fullConfig(50))
	if err != nil {
		t.Fatal(err)
	}
	cps, err := f.engine.cfg.Checkpoints.ListForSession(ctx, first.SessionID)
	if err != nil {
		t.Fatal(err)
	}

	meta, err := f.engine.Run(ctx, domain.ReplayConfig{
		Mode: domain.ReplayModeFull,
		Range: domain.ReplayRange{
			Kind:         domain.RangeFromCheckpoint,
			CheckpointID: cps[0].ID,
		},
		BatchSize: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != domain.ReplayStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", meta.Status, meta.Error)
	}
	if meta.StartLedger != cps[0].Ledger+1 {
		t.Errorf("expected start at %d, got %d", cps[0].Ledger+1, meta.StartLedger)
	}
	if meta.EventsApplied != 2 {
		t.Errorf("expected 2 events applied past checkpoint, got %d", meta.EventsApplied)
	}
}

func TestVerificationDetectsTamperedState(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 30, 60, 90)
	ctx := context.Background()

	cfg := domain.ReplayConfig{
		Mode:      domain.ReplayModeFull,
		Range:     domain.ReplayRange{Kind: domain.RangeFromTo, Start: 1, End: 100},
		BatchSize: 50,
	}
	if _, err := f.engine.Run(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	// Corrupt the snapshot written at the first chunk boundary.
	f.mem.TamperStateHash(30, "deadbeef")

	verify := cfg
	verify.Mode = domain.ReplayModeVerification
	meta, err := f.engine.Run(ctx, verify)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != domain.ReplayStatusFailed {
		t.Fatalf("expected failed on tampered state, got %s", meta.Status)
	}
	if !strings.Contains(meta.Error, "ledger 30") {
		t.Errorf("expected failure at first mismatching ledger, got %q", meta.Error)
	}
	// Verification aborts at the first mismatch; the second chunk is never
	// reached.
	if meta.LastLedger >= 90 {
		t.Errorf("expected abort before second chunk, last ledger %d", meta.LastLedger)
	}
}

func TestVerificationPassesOnIntactState(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 30, 60, 90)
	ctx := context.Background()

	cfg := domain.ReplayConfig{
		Mode:      domain.ReplayModeFull,
		Range:     domain.ReplayRange{Kind: domain.RangeFromTo, Start: 1, End: 100},
		BatchSize: 50,
	}
	if _, err := f.engine.Run(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	verify := cfg
	verify.Mode = domain.ReplayModeVerification
	meta, err := f.engine.Run(ctx, verify)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != domain.ReplayStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", meta.Status, meta.Error)
	}
	if meta.ChunksVerified != 2 {
		t.Errorf("expected both chunk snapshots verified, got %d", meta.ChunksVerified)
	}
}

func TestVerificationReportsZeroCoverageOnMismatchedBoundaries(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 30, 60, 90)
	ctx := context.Background()

	cfg := domain.ReplayConfig{
		Mode:      domain.ReplayModeFull,
		Range:     domain.ReplayRange{Kind: domain.RangeFromTo, Start: 1, End: 100},
		BatchSize: 50,
	}
	if _, err := f.engine.Run(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	// A different range and batch size land on chunk boundaries with no
	// stored snapshot; the run completes but verifies nothing, and the
	// counter makes that visible.
	verify := cfg
	verify.Mode = domain.ReplayModeVerification
	verify.Range = domain.ReplayRange{Kind: domain.RangeFromTo, Start: 1, End: 80}
	verify.BatchSize = 80
	meta, err := f.engine.Run(ctx, verify)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != domain.ReplayStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", meta.Status, meta.Error)
	}
	if meta.ChunksVerified != 0 {
		t.Errorf("expected no verified chunks with shifted boundaries, got %d", meta.ChunksVerified)
	}
}

func TestDryRunWritesNoCheckpoints(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 30)
	ctx := context.Background()

	cfg := fullConfig(100)
	cfg.DryRun = true
	meta, err := f.engine.Run(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != domain.ReplayStatusCompleted {
		t.Fatalf("expected completed, got %s", meta.Status)
	}
	if meta.EventsApplied != 2 {
		t.Errorf("expected 2 events applied, got %d", meta.EventsApplied)
	}

	cps, err := f.engine.cfg.Checkpoints.ListForSession(ctx, meta.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 0 {
		t.Errorf("dry run must not write checkpoints, found %d", len(cps))
	}
	if _, err := f.engine.cfg.States.Load(ctx, 30); err == nil {
		t.Error("dry run must not persist state snapshots")
	}
}

func TestUnknownEventsAreCountedNotFatal(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10)
	ctx := context.Background()

	events := memory.NewEventRepo(f.mem)
	if err := events.InsertIfAbsent(ctx, &domain.ContractEvent{
		LedgerSequence: 10,
		TxHash:         "tx-10",
		EventIndex:     1,
		ContractID:     "contract-1",
		EventType:      "governance_vote",
		Network:        "testnet",
		Payload:        map[string]any{},
	}); err != nil {
		t.Fatal(err)
	}

	meta, err := f.engine.Run(ctx, fullConfig(100))
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != domain.ReplayStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", meta.Status, meta.Error)
	}
	if meta.SkippedUnknown != 1 {
		t.Errorf("expected 1 unknown event skipped, got %d", meta.SkippedUnknown)
	}
	if meta.EventsApplied != 1 {
		t.Errorf("expected 1 event applied, got %d", meta.EventsApplied)
	}
}

func TestFilterNarrowsEventStream(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 30)
	ctx := context.Background()

	events := memory.NewEventRepo(f.mem)
	if err := events.InsertIfAbsent(ctx, &domain.ContractEvent{
		LedgerSequence: 20,
		TxHash:         "tx-other",
		EventIndex:     0,
		ContractID:     "contract-other",
		EventType:      "snapshot_submitted",
		Network:        "testnet",
		Payload: map[string]any{
			"epoch":        float64(999),
			"snapshot_cid": "cid-999",
			"submitter":    "mallory",
		},
	}); err != nil {
		t.Fatal(err)
	}

	cfg := fullConfig(100)
	cfg.Filter = domain.ReplayFilter{ContractIDs: []string{"contract-1"}}
	meta, err := f.engine.Run(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if meta.EventsApplied != 2 {
		t.Errorf("expected 2 events from filtered contract, got %d", meta.EventsApplied)
	}
}

func TestStructuralErrorFailsSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ledgerRepo := memory.NewLedgerRepo(f.mem)
	if err := ledgerRepo.InsertIfAbsent(ctx, &domain.LedgerRecord{Sequence: 10}); err != nil {
		t.Fatal(err)
	}
	events := memory.NewEventRepo(f.mem)
	if err := events.InsertIfAbsent(ctx, &domain.ContractEvent{
		LedgerSequence: 10,
		TxHash:         "tx-bad",
		EventIndex:     0,
		ContractID:     "contract-1",
		EventType:      "snapshot_submitted",
		Network:        "testnet",
		Payload:        map[string]any{"epoch": float64(1)},
	}); err != nil {
		t.Fatal(err)
	}

	meta, err := f.engine.Run(ctx, fullConfig(100))
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != domain.ReplayStatusFailed {
		t.Fatalf("expected failed on malformed payload, got %s", meta.Status)
	}
	if meta.Error == "" {
		t.Error("expected error message on failed session")
	}
}

// gatedEventRepo blocks the second ListByRange call until released, giving
// the test a window to cancel between chunks.
type gatedEventRepo struct {
	storage.EventRepository
	calls   int
	reached chan struct{}
	release chan struct{}
}

func (g *gatedEventRepo) ListByRange(ctx context.Context, start, end uint64) ([]*domain.ContractEvent, error) {
	g.calls++
	if g.calls == 2 {
		close(g.reached)
		<-g.release
	}
	return g.EventRepository.ListByRange(ctx, start, end)
}

func TestCancelBetweenChunks(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 60, 110, 160)
	ctx := context.Background()

	gate := &gatedEventRepo{
		EventRepository: memory.NewEventRepo(f.mem),
		reached:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	f.engine.cfg.Events = gate

	meta, err := f.engine.Start(ctx, fullConfig(50))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-gate.reached:
	case <-time.After(5 * time.Second):
		t.Fatal("session never reached the second chunk")
	}

	if err := f.engine.Cancel(meta.SessionID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(gate.release)

	if err := f.engine.Wait(ctx, meta.SessionID); err != nil {
		t.Fatal(err)
	}

	final, err := f.engine.Get(ctx, meta.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != domain.ReplayStatusCancelled {
		t.Fatalf("expected cancelled, got %s (%s)", final.Status, final.Error)
	}
	if final.EndedAt == nil {
		t.Error("expected ended_at on cancelled session")
	}

	// Cancelling a finished session reports not running.
	if err := f.engine.Cancel(meta.SessionID); err != ErrSessionNotRunning {
		t.Errorf("expected ErrSessionNotRunning, got %v", err)
	}
}

func TestDeleteCancelsRunningSession(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10, 60, 110, 160)
	ctx := context.Background()

	gate := &gatedEventRepo{
		EventRepository: memory.NewEventRepo(f.mem),
		reached:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	f.engine.cfg.Events = gate

	meta, err := f.engine.Start(ctx, fullConfig(50))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-gate.reached:
	case <-time.After(5 * time.Second):
		t.Fatal("session never reached the second chunk")
	}

	done := make(chan error, 1)
	go func() { done <- f.engine.Delete(ctx, meta.SessionID) }()
	close(gate.release)

	if err := <-done; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.engine.Get(ctx, meta.SessionID); err != storage.ErrSessionNotFound {
		t.Errorf("expected session record removed, got %v", err)
	}
}

func TestDeleteFinishedSessionRemovesRecord(t *testing.T) {
	f := newFixture()
	f.seedEvents(t, 10)
	ctx := context.Background()

	meta, err := f.engine.Run(ctx, fullConfig(100))
	if err != nil {
		t.Fatal(err)
	}
	if meta.Status != domain.ReplayStatusCompleted {
		t.Fatalf("expected completed, got %s", meta.Status)
	}

	if err := f.engine.Delete(ctx, meta.SessionID); err != nil {
		t.Fatalf("delete finished session: %v", err)
	}
	if _, err := f.engine.Get(ctx, meta.SessionID); err != storage.ErrSessionNotFound {
		t.Errorf("expected session record removed, got %v", err)
	}
	if err := f.engine.Delete(ctx, "unknown"); err != storage.ErrSessionNotFound {
		t.Errorf("expected not-found for unknown session, got %v", err)
	}
}
