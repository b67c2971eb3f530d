// Package ingest pulls ledger history from the remote data service and
// persists it idempotently, advancing a durable cursor only after a batch
// has been fully written.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage"
	"github.com/vietddude/ledgerflow/internal/metrics"
	"github.com/vietddude/ledgerflow/internal/remote"
)

// ErrSequenceGap is returned when a fetched page skips a ledger. A gap is a
// fetch failure; the cycle fails and retries rather than advancing the
// cursor past the hole.
var ErrSequenceGap = errors.New("ledger sequence gap in fetched page")

// DeadLetterQueue receives ledgers whose enrichment failed so a background
// worker can retry them without blocking ingestion.
type DeadLetterQueue interface {
	Add(ctx context.Context, fl *domain.FailedLedger) error
	GetNext(ctx context.Context) (*domain.FailedLedger, error)
	IncrementRetry(ctx context.Context, id string) error
	MarkResolved(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Config holds the ingestion service dependencies.
type Config struct {
	TaskID      string
	Network     string
	ContractIDs []string
	BatchSize   int

	Client remote.DataClient

	Ledgers      storage.LedgerRepository
	Payments     storage.PaymentRepository
	Transactions storage.TransactionRepository
	Events       storage.EventRepository
	Cursors      storage.CursorRepository

	// DLQ is optional; without it enrichment failures are logged and dropped.
	DLQ DeadLetterQueue

	Log *slog.Logger
}

// Service executes ingestion cycles. One service per task; cycles are
// sequential, never concurrent.
type Service struct {
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// NewService creates an ingestion service.
func NewService(cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, log: log.With("task", cfg.TaskID), now: time.Now}
}

// RunCycle executes one ingestion cycle and returns how many ledgers were
// processed. Zero means the task is caught up with the remote stream.
func (s *Service) RunCycle(ctx context.Context) (int, error) {
	// 1. Resolve the resumption point.
	cursor, err := s.cfg.Cursors.Get(ctx, s.cfg.TaskID)
	if err != nil && !errors.Is(err, storage.ErrCursorNotFound) {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}

	var start uint64
	var token string
	if cursor == nil {
		start, err = s.seedStart(ctx)
		if err != nil {
			return 0, err
		}
		s.log.Info("no cursor found, seeding from remote retention window", "start", start)
	} else {
		start = cursor.LastSequence + 1
		token = cursor.PaginationToken
	}

	// 2. Fetch the next page of ledgers.
	page, err := s.cfg.Client.FetchLedgers(ctx, start, s.cfg.BatchSize, token)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch ledgers from %d: %w", start, err)
	}
	if len(page.Ledgers) == 0 {
		return 0, nil
	}

	// 3. Ingested sequences must be contiguous. Reject pages that start past
	// the resumption point or skip a ledger internally before anything is
	// persisted, so the cursor never advances over a hole.
	if cursor != nil && page.Ledgers[0].Sequence != start {
		return 0, fmt.Errorf("%w: expected ledger %d, page starts at %d",
			ErrSequenceGap, start, page.Ledgers[0].Sequence)
	}
	for i := 1; i < len(page.Ledgers); i++ {
		if page.Ledgers[i].Sequence != page.Ledgers[i-1].Sequence+1 {
			return 0, fmt.Errorf("%w: ledger %d followed by %d",
				ErrSequenceGap, page.Ledgers[i-1].Sequence, page.Ledgers[i].Sequence)
		}
	}

	// 4. Persist each ledger in sequence order. Enrichment failures are
	// non-fatal: the ledger row lands, the failure goes to the dead-letter
	// queue, and the cursor still advances.
	var lastSeq uint64
	for i := range page.Ledgers {
		ledger := &page.Ledgers[i]
		if err := s.cfg.Ledgers.InsertIfAbsent(ctx, ledger); err != nil {
			return 0, fmt.Errorf("failed to persist ledger %d: %w", ledger.Sequence, err)
		}

		if err := s.EnrichLedger(ctx, ledger.Sequence); err != nil {
			s.deadLetter(ctx, ledger.Sequence, err)
		}

		lastSeq = ledger.Sequence
		metrics.LedgersIngested.WithLabelValues(s.cfg.TaskID).Inc()
	}

	// 5. Advance the cursor only after the whole batch is durable.
	if err := s.cfg.Cursors.Save(ctx, &domain.Cursor{
		TaskID:          s.cfg.TaskID,
		LastSequence:    lastSeq,
		PaginationToken: page.Cursor,
		UpdatedAt:       s.now().UTC(),
	}); err != nil {
		return 0, fmt.Errorf("failed to save cursor at %d: %w", lastSeq, err)
	}
	metrics.CursorSequence.WithLabelValues(s.cfg.TaskID).Set(float64(lastSeq))

	s.log.Debug("ingestion cycle complete", "ledgers", len(page.Ledgers), "cursor", lastSeq)
	return len(page.Ledgers), nil
}

// seedStart asks the remote service for its retention window and starts at
// the oldest ledger it still holds.
func (s *Service) seedStart(ctx context.Context) (uint64, error) {
	health, err := s.cfg.Client.Health(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to probe remote for seed position: %w", err)
	}
	if !health.Healthy {
		return 0, fmt.Errorf("remote service unhealthy, cannot seed cursor")
	}
	return health.OldestLedger, nil
}

func (s *Service) deadLetter(ctx context.Context, sequence uint64, cause error) {
	metrics.EnrichmentFailures.WithLabelValues(s.cfg.TaskID, "enrich").Inc()
	s.log.Warn("enrichment failed, deferring to retry queue",
		"ledger", sequence, "error", cause)

	if s.cfg.DLQ == nil {
		return
	}
	fl := &domain.FailedLedger{
		ID:          uuid.NewString(),
		TaskID:      s.cfg.TaskID,
		Sequence:    sequence,
		Reason:      cause.Error(),
		LastAttempt: s.now().UTC(),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.cfg.DLQ.Add(ctx, fl); err != nil {
		s.log.Error("failed to enqueue dead letter", "ledger", sequence, "error", err)
	}
}
