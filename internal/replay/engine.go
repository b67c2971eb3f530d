// Package replay reconstructs application state by refolding stored contract
// events in deterministic order, with checkpointing, hash verification, and
// cooperative cancellation.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/ledgerflow/internal/checkpoint"
	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage"
	"github.com/vietddude/ledgerflow/internal/metrics"
	"github.com/vietddude/ledgerflow/internal/state"
)

var (
	// ErrSessionNotRunning is returned when cancelling a session that has
	// already reached a terminal state or never started.
	ErrSessionNotRunning = errors.New("replay session is not running")

	// ErrInvalidRange is returned when a session's range cannot be resolved.
	ErrInvalidRange = errors.New("invalid replay range")
)

// EngineConfig holds the replay engine dependencies.
type EngineConfig struct {
	Events      storage.EventRepository
	Ledgers     storage.LedgerRepository
	Sessions    storage.ReplaySessionRepository
	Checkpoints *checkpoint.Manager
	States      *state.Store
	Log         *slog.Logger
}

// Engine runs replay sessions. Sessions execute one at a time per goroutine
// but the engine itself is safe for concurrent Start/Cancel/Get calls.
type Engine struct {
	cfg EngineConfig
	log *slog.Logger
	now func() time.Time

	mu     sync.Mutex
	active map[string]*activeSession
}

type activeSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// plan is a resolved session: the ledger window plus the builder seeded from
// a checkpoint when the mode or range asks for one.
type plan struct {
	start   uint64
	end     uint64
	builder *state.Builder
}

// NewEngine creates a replay engine.
func NewEngine(cfg EngineConfig) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		active: make(map[string]*activeSession),
	}
}

// Start creates a session and executes it in the background. The returned
// metadata reflects the session at creation time; poll Get for progress.
func (e *Engine) Start(ctx context.Context, cfg domain.ReplayConfig) (*domain.ReplayMetadata, error) {
	meta, p, err := e.prepare(ctx, cfg)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	as := &activeSession{cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.active[meta.SessionID] = as
	e.mu.Unlock()

	go func() {
		defer close(as.done)
		defer e.release(meta.SessionID)
		defer cancel()
		e.execute(runCtx, cfg, meta, p)
	}()

	snapshot := *meta
	return &snapshot, nil
}

// Run creates a session and executes it synchronously, returning the final
// metadata. Cancel still works while Run is in flight.
func (e *Engine) Run(ctx context.Context, cfg domain.ReplayConfig) (*domain.ReplayMetadata, error) {
	meta, p, err := e.prepare(ctx, cfg)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	as := &activeSession{cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.active[meta.SessionID] = as
	e.mu.Unlock()
	defer e.release(meta.SessionID)
	defer close(as.done)

	e.execute(runCtx, cfg, meta, p)
	return meta, nil
}

// Cancel requests cooperative cancellation of a running session. The session
// finishes its current chunk, records final progress, and lands in the
// cancelled state.
func (e *Engine) Cancel(sessionID string) error {
	e.mu.Lock()
	as, ok := e.active[sessionID]
	e.mu.Unlock()
	if !ok {
		return ErrSessionNotRunning
	}
	as.cancel()
	return nil
}

// Delete removes a session record. A still-running session is cancelled
// and waited for first so a late progress write cannot resurrect the
// record.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	if _, err := e.cfg.Sessions.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := e.Cancel(sessionID); err == nil {
		if err := e.Wait(ctx, sessionID); err != nil {
			return err
		}
	}
	return e.cfg.Sessions.Delete(ctx, sessionID)
}

// Wait blocks until a session started with Start reaches a terminal state.
func (e *Engine) Wait(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	as, ok := e.active[sessionID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-as.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get retrieves session metadata.
func (e *Engine) Get(ctx context.Context, sessionID string) (*domain.ReplayMetadata, error) {
	return e.cfg.Sessions.Get(ctx, sessionID)
}

// List retrieves recent sessions, newest first.
func (e *Engine) List(ctx context.Context, limit int) ([]*domain.ReplayMetadata, error) {
	return e.cfg.Sessions.List(ctx, limit)
}

func (e *Engine) release(sessionID string) {
	e.mu.Lock()
	delete(e.active, sessionID)
	e.mu.Unlock()
}

// prepare resolves the range, seeds the builder, and persists the created
// session record.
func (e *Engine) prepare(ctx context.Context, cfg domain.ReplayConfig) (*domain.ReplayMetadata, *plan, error) {
	p, err := e.resolve(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	meta := &domain.ReplayMetadata{
		SessionID:   uuid.NewString(),
		Status:      domain.ReplayStatusCreated,
		Mode:        cfg.Mode,
		StartLedger: p.start,
		EndLedger:   p.end,
		StartedAt:   e.now().UTC(),
	}
	if err := e.cfg.Sessions.Save(ctx, meta); err != nil {
		return nil, nil, fmt.Errorf("failed to create replay session: %w", err)
	}

	e.log.Info("replay session created",
		"session", meta.SessionID,
		"mode", string(cfg.Mode),
		"start", p.start,
		"end", p.end,
		"dry_run", cfg.DryRun,
	)
	return meta, p, nil
}

// resolve turns the mode and range selector into a concrete ledger window
// and, when resuming, a builder restored from the anchoring checkpoint.
func (e *Engine) resolve(ctx context.Context, cfg domain.ReplayConfig) (*plan, error) {
	p := &plan{builder: state.NewBuilder(e.log)}

	switch cfg.Mode {
	case domain.ReplayModeFull, domain.ReplayModeVerification, domain.ReplayModeDebug:
	case domain.ReplayModeIncremental:
		cp, err := e.cfg.Checkpoints.Latest(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve latest checkpoint: %w", err)
		}
		if cp != nil {
			if err := e.seedFromCheckpoint(ctx, p, cp); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRange, cfg.Mode)
	}

	switch cfg.Range.Kind {
	case domain.RangeAll, "":
	case domain.RangeFrom:
		p.start = cfg.Range.Start
	case domain.RangeTo:
		p.end = cfg.Range.End
	case domain.RangeFromTo:
		p.start = cfg.Range.Start
		p.end = cfg.Range.End
	case domain.RangeFromCheckpoint:
		cp, err := e.cfg.Checkpoints.Get(ctx, cfg.Range.CheckpointID)
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoint %s: %w", cfg.Range.CheckpointID, err)
		}
		if err := e.seedFromCheckpoint(ctx, p, cp); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown range kind %q", ErrInvalidRange, cfg.Range.Kind)
	}

	// An open end is bounded by the highest ingested ledger so the fold
	// terminates.
	if p.end == 0 {
		latest, err := e.cfg.Ledgers.GetLatest(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve latest ledger: %w", err)
		}
		if latest != nil {
			p.end = latest.Sequence
		}
	}
	if p.end != 0 && p.start > p.end {
		return nil, fmt.Errorf("%w: start %d beyond end %d", ErrInvalidRange, p.start, p.end)
	}
	return p, nil
}

// seedFromCheckpoint restores the state snapshot anchored by a checkpoint
// and positions the fold just past it. A hash mismatch on load is fatal.
func (e *Engine) seedFromCheckpoint(ctx context.Context, p *plan, cp *domain.Checkpoint) error {
	st, err := e.cfg.States.Load(ctx, cp.Ledger)
	if err != nil {
		return fmt.Errorf("failed to restore state for checkpoint %s at ledger %d: %w",
			cp.ID, cp.Ledger, err)
	}
	p.builder = state.NewBuilderWith(st, e.log)
	p.start = cp.Ledger + 1
	return nil
}

func (e *Engine) execute(ctx context.Context, cfg domain.ReplayConfig, meta *domain.ReplayMetadata, p *plan) {
	mode := string(cfg.Mode)
	verbose := cfg.Verbose || cfg.Mode == domain.ReplayModeDebug

	span := uint64(cfg.BatchSize)
	if span == 0 {
		span = 100
	}

	meta.Status = domain.ReplayStatusRunning
	e.saveProgress(ctx, meta)

	fail := func(err error) {
		meta.Status = domain.ReplayStatusFailed
		meta.Error = err.Error()
		e.finish(ctx, meta)
		e.log.Error("replay session failed", "session", meta.SessionID, "error", err)
	}

	for chunkStart := p.start; p.end != 0 && chunkStart <= p.end; chunkStart += span {
		// Cancellation is honored between chunks so every terminal state
		// sits on a chunk boundary.
		if ctx.Err() != nil {
			meta.Status = domain.ReplayStatusCancelled
			e.finish(ctx, meta)
			e.log.Info("replay session cancelled",
				"session", meta.SessionID, "last_ledger", meta.LastLedger)
			return
		}

		chunkEnd := chunkStart + span - 1
		if chunkEnd > p.end {
			chunkEnd = p.end
		}

		events, err := e.cfg.Events.ListByRange(ctx, chunkStart, chunkEnd)
		if err != nil {
			fail(fmt.Errorf("failed to list events %d-%d: %w", chunkStart, chunkEnd, err))
			return
		}

		applied := 0
		for _, ev := range events {
			if !matchFilter(&cfg.Filter, ev) {
				continue
			}
			result, err := p.builder.Apply(ev)
			if err != nil {
				fail(fmt.Errorf("failed to apply event %s/%d at ledger %d: %w",
					ev.TxHash, ev.EventIndex, ev.LedgerSequence, err))
				return
			}
			switch result {
			case state.Applied:
				applied++
				meta.EventsApplied++
				metrics.ReplayEventsApplied.WithLabelValues(mode).Inc()
				if verbose {
					e.log.Debug("event applied",
						"session", meta.SessionID,
						"ledger", ev.LedgerSequence,
						"tx", ev.TxHash,
						"index", ev.EventIndex,
						"type", ev.EventType,
					)
				}
			case state.SkippedDuplicate:
				meta.EventsSkipped++
				metrics.ReplayEventsSkipped.WithLabelValues(mode, "duplicate").Inc()
			case state.SkippedUnknown:
				meta.SkippedUnknown++
				metrics.ReplayEventsSkipped.WithLabelValues(mode, "unknown").Inc()
			}
		}
		meta.LastLedger = chunkEnd

		if applied > 0 {
			if cfg.Mode == domain.ReplayModeVerification {
				verified, err := e.verifyChunk(ctx, p.builder)
				if err != nil {
					fail(err)
					return
				}
				if verified {
					meta.ChunksVerified++
				}
			} else if !cfg.DryRun {
				hash, err := e.cfg.States.Persist(ctx, p.builder.State())
				if err != nil {
					fail(fmt.Errorf("failed to persist state at ledger %d: %w", p.builder.Ledger(), err))
					return
				}
				if _, err := e.cfg.Checkpoints.Record(ctx, meta.SessionID,
					domain.CheckpointTypeReplay, p.builder.Ledger(), hash); err != nil {
					fail(err)
					return
				}
			}
		}

		e.saveProgress(ctx, meta)
	}

	meta.Status = domain.ReplayStatusCompleted
	e.finish(ctx, meta)
	e.log.Info("replay session completed",
		"session", meta.SessionID,
		"applied", meta.EventsApplied,
		"skipped", meta.EventsSkipped,
		"unknown", meta.SkippedUnknown,
	)
}

// verifyChunk compares the rebuilt state against the snapshot stored at the
// same ledger. Ledgers with no stored snapshot are skipped (reported as not
// verified); the first mismatch aborts the session.
func (e *Engine) verifyChunk(ctx context.Context, b *state.Builder) (bool, error) {
	err := e.cfg.States.Verify(ctx, b.State())
	if errors.Is(err, storage.ErrStateNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verification failed at ledger %d: %w", b.Ledger(), err)
	}
	return true, nil
}

func (e *Engine) finish(ctx context.Context, meta *domain.ReplayMetadata) {
	now := e.now().UTC()
	meta.EndedAt = &now
	metrics.ReplaySessionsTotal.WithLabelValues(string(meta.Status)).Inc()
	e.saveProgress(ctx, meta)
}

// saveProgress never fails the session over a status write; cancellation may
// already have torn down the context, so fall back to a detached one.
func (e *Engine) saveProgress(ctx context.Context, meta *domain.ReplayMetadata) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := e.cfg.Sessions.Save(ctx, meta); err != nil {
		e.log.Error("failed to save session progress",
			"session", meta.SessionID, "error", err)
	}
}

func matchFilter(f *domain.ReplayFilter, ev *domain.ContractEvent) bool {
	if f.Network != "" && ev.Network != f.Network {
		return false
	}
	if len(f.ContractIDs) > 0 && !contains(f.ContractIDs, ev.ContractID) {
		return false
	}
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, ev.EventType) {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
