package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
)

var (
	// ErrCursorNotFound is returned when no cursor has been saved yet
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrCheckpointNotFound is returned when a checkpoint doesn't exist
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrSessionNotFound is returned when a replay session doesn't exist
	ErrSessionNotFound = errors.New("replay session not found")

	// ErrStateNotFound is returned when no state snapshot exists for a ledger
	ErrStateNotFound = errors.New("state snapshot not found")
)

// LedgerRepository persists raw ingested ledgers. Inserts are
// insert-if-absent: writing an already-persisted sequence is a no-op.
type LedgerRepository interface {
	// InsertIfAbsent saves a ledger; duplicate sequences are ignored.
	InsertIfAbsent(ctx context.Context, ledger *domain.LedgerRecord) error

	// GetBySequence retrieves a ledger, nil if not present.
	GetBySequence(ctx context.Context, sequence uint64) (*domain.LedgerRecord, error)

	// GetLatest retrieves the highest-sequence ledger, nil if empty.
	GetLatest(ctx context.Context) (*domain.LedgerRecord, error)

	// Count returns the number of persisted ledgers.
	Count(ctx context.Context) (int, error)
}

// PaymentRepository persists payments keyed by operation ID.
type PaymentRepository interface {
	InsertIfAbsent(ctx context.Context, payment *domain.IngestedPayment) error

	ListByLedger(ctx context.Context, sequence uint64) ([]*domain.IngestedPayment, error)

	Count(ctx context.Context) (int, error)
}

// TransactionRepository persists transactions keyed by hash.
type TransactionRepository interface {
	InsertIfAbsent(ctx context.Context, tx *domain.IngestedTransaction) error

	GetByHash(ctx context.Context, txHash string) (*domain.IngestedTransaction, error)

	Count(ctx context.Context) (int, error)
}

// EventRepository persists contract events keyed by
// (ledger sequence, tx hash, event index).
type EventRepository interface {
	InsertIfAbsent(ctx context.Context, event *domain.ContractEvent) error

	// ListByRange yields events with start <= ledger <= end (end of 0 means
	// unbounded) in ascending (ledger, tx hash, event index) order.
	ListByRange(ctx context.Context, start, end uint64) ([]*domain.ContractEvent, error)

	Count(ctx context.Context) (int, error)
}

// CursorRepository persists the single resumption anchor per ingestion task.
type CursorRepository interface {
	// Get retrieves the cursor for a task; ErrCursorNotFound if never saved.
	Get(ctx context.Context, taskID string) (*domain.Cursor, error)

	// Save atomically overwrites the cursor row for a task.
	Save(ctx context.Context, cursor *domain.Cursor) error
}

// CheckpointRepository persists append-only checkpoints.
type CheckpointRepository interface {
	Insert(ctx context.Context, checkpoint *domain.Checkpoint) error

	GetByID(ctx context.Context, id string) (*domain.Checkpoint, error)

	// ListForSession yields a session's checkpoints in ascending ledger order.
	ListForSession(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error)

	// Latest returns the most recent checkpoint across all sessions, nil if
	// none exist.
	Latest(ctx context.Context) (*domain.Checkpoint, error)

	// DeleteOlderThan removes checkpoints created before the cutoff and
	// returns how many were deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ReplaySessionRepository persists replay session status records.
type ReplaySessionRepository interface {
	Save(ctx context.Context, meta *domain.ReplayMetadata) error

	Get(ctx context.Context, sessionID string) (*domain.ReplayMetadata, error)

	// List returns the most recently started sessions, newest first.
	List(ctx context.Context, limit int) ([]*domain.ReplayMetadata, error)

	Delete(ctx context.Context, sessionID string) error
}

// StateSnapshotRepository persists serialized application state by ledger.
type StateSnapshotRepository interface {
	// Save overwrites the snapshot for a ledger.
	Save(ctx context.Context, ledger uint64, serialized []byte, hash string) error

	// Load returns the serialized state and stored hash for a ledger;
	// ErrStateNotFound if absent.
	Load(ctx context.Context, ledger uint64) (serialized []byte, hash string, err error)
}
