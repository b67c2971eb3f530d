package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage"
)

// CheckpointRepo implements storage.CheckpointRepository using PostgreSQL.
// Rows are append-only; nothing here issues an UPDATE.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo creates a new PostgreSQL checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

type checkpointRow struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	Type      string    `db:"type"`
	Ledger    uint64    `db:"ledger"`
	StateHash string    `db:"state_hash"`
	CreatedAt time.Time `db:"created_at"`
}

func (c *checkpointRow) toDomain() *domain.Checkpoint {
	return &domain.Checkpoint{
		ID:        c.ID,
		SessionID: c.SessionID,
		Type:      domain.CheckpointType(c.Type),
		Ledger:    c.Ledger,
		StateHash: c.StateHash,
		CreatedAt: c.CreatedAt,
	}
}

// Insert appends a checkpoint.
func (r *CheckpointRepo) Insert(ctx context.Context, checkpoint *domain.Checkpoint) error {
	query := `
		INSERT INTO checkpoints (id, session_id, type, ledger, state_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	createdAt := checkpoint.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		checkpoint.ID,
		checkpoint.SessionID,
		string(checkpoint.Type),
		checkpoint.Ledger,
		checkpoint.StateHash,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

// GetByID retrieves a checkpoint by ID.
func (r *CheckpointRepo) GetByID(ctx context.Context, id string) (*domain.Checkpoint, error) {
	query := `
		SELECT id, session_id, type, ledger, state_hash, created_at
		FROM checkpoints
		WHERE id = $1
	`

	var row checkpointRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return row.toDomain(), nil
}

// ListForSession retrieves a session's checkpoints in ascending ledger order.
func (r *CheckpointRepo) ListForSession(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error) {
	query := `
		SELECT id, session_id, type, ledger, state_hash, created_at
		FROM checkpoints
		WHERE session_id = $1
		ORDER BY ledger ASC, created_at ASC
	`

	var rows []checkpointRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	checkpoints := make([]*domain.Checkpoint, 0, len(rows))
	for i := range rows {
		checkpoints = append(checkpoints, rows[i].toDomain())
	}
	return checkpoints, nil
}

// Latest retrieves the most recent checkpoint across all sessions.
func (r *CheckpointRepo) Latest(ctx context.Context) (*domain.Checkpoint, error) {
	query := `
		SELECT id, session_id, type, ledger, state_hash, created_at
		FROM checkpoints
		ORDER BY ledger DESC, created_at DESC
		LIMIT 1
	`

	var row checkpointRow
	err := r.db.GetContext(ctx, &row, query)
	if err == sql.ErrNoRows {
		return nil, nil // No checkpoints yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}

	return row.toDomain(), nil
}

// DeleteOlderThan removes checkpoints created before the cutoff.
func (r *CheckpointRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
