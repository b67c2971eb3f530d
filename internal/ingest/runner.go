package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/ledgerflow/internal/metrics"
)

// Runner drives the ingestion service on a fixed interval and, when a
// dead-letter queue is configured, runs the enrichment retry worker
// alongside it.
type Runner struct {
	svc *Service

	scanInterval  time.Duration
	idleInterval  time.Duration
	retryInterval time.Duration
	maxRetries    int

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

// RunnerConfig tunes the ingestion loop timings.
type RunnerConfig struct {
	// ScanInterval is the pause between cycles while catching up.
	ScanInterval time.Duration
	// IdleInterval is the pause after a cycle that processed nothing.
	IdleInterval time.Duration
	// RetryInterval is the pause between dead-letter retry attempts.
	RetryInterval time.Duration
	// MaxRetries drops a dead letter after this many failed attempts.
	MaxRetries int
}

// NewRunner creates a runner around an ingestion service.
func NewRunner(svc *Service, cfg RunnerConfig) *Runner {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 2 * time.Second
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Runner{
		svc:           svc,
		scanInterval:  cfg.ScanInterval,
		idleInterval:  cfg.IdleInterval,
		retryInterval: cfg.RetryInterval,
		maxRetries:    cfg.MaxRetries,
		stop:          make(chan struct{}),
	}
}

// Start runs the ingestion loop until the context is cancelled or Stop is
// called. Blocks; run in its own goroutine.
func (r *Runner) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("ingestion runner already running")
	}
	defer r.running.Store(false)

	if r.svc.cfg.DLQ != nil {
		go r.retryLoop(ctx)
	}

	for {
		processed, err := r.svc.RunCycle(ctx)
		if err != nil {
			r.svc.log.Error("ingestion cycle failed", "error", err)
		}

		// Back off when caught up; keep pace while behind.
		wait := r.scanInterval
		if err == nil && processed == 0 {
			wait = r.idleInterval
		}

		select {
		case <-ctx.Done():
			return nil
		case <-r.stop:
			return nil
		case <-time.After(wait):
		}
	}
}

// Stop signals the loop to exit. Safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// retryLoop drains the dead-letter queue, re-running enrichment for failed
// ledgers. Entries that exhaust their retries are dropped with an error log
// so they never wedge the queue.
func (r *Runner) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.retryOne(ctx)
		}
	}
}

func (r *Runner) retryOne(ctx context.Context) {
	dlq := r.svc.cfg.DLQ

	if depth, err := dlq.Count(ctx); err == nil {
		metrics.DeadLetterDepth.Set(float64(depth))
	}

	fl, err := dlq.GetNext(ctx)
	if err != nil {
		r.svc.log.Error("failed to read dead-letter queue", "error", err)
		return
	}
	if fl == nil {
		return
	}

	if fl.RetryCount >= r.maxRetries {
		r.svc.log.Error("dead letter exhausted retries, dropping",
			"ledger", fl.Sequence, "retries", fl.RetryCount, "reason", fl.Reason)
		if err := dlq.MarkResolved(ctx, fl.ID); err != nil {
			r.svc.log.Error("failed to drop dead letter", "id", fl.ID, "error", err)
		}
		return
	}

	if err := r.svc.EnrichLedger(ctx, fl.Sequence); err != nil {
		r.svc.log.Warn("dead-letter retry failed",
			"ledger", fl.Sequence, "attempt", fl.RetryCount+1, "error", err)
		if err := dlq.IncrementRetry(ctx, fl.ID); err != nil {
			r.svc.log.Error("failed to bump retry count", "id", fl.ID, "error", err)
		}
		return
	}

	if err := dlq.MarkResolved(ctx, fl.ID); err != nil {
		r.svc.log.Error("failed to resolve dead letter", "id", fl.ID, "error", err)
		return
	}
	r.svc.log.Info("dead-letter retry succeeded", "ledger", fl.Sequence)
}
