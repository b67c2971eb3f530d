package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

// Get retrieves the cursor for an ingestion task.
func (r *CursorRepo) Get(ctx context.Context, taskID string) (*domain.Cursor, error) {
	query := `
		SELECT task_id, last_sequence, pagination_token, updated_at
		FROM cursors
		WHERE task_id = $1
	`

	var row struct {
		TaskID          string    `db:"task_id"`
		LastSequence    uint64    `db:"last_sequence"`
		PaginationToken string    `db:"pagination_token"`
		UpdatedAt       time.Time `db:"updated_at"`
	}
	err := r.db.GetContext(ctx, &row, query, taskID)
	if err == sql.ErrNoRows {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	return &domain.Cursor{
		TaskID:          row.TaskID,
		LastSequence:    row.LastSequence,
		PaginationToken: row.PaginationToken,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

// Save atomically overwrites the cursor row for a task.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	query := `
		INSERT INTO cursors (task_id, last_sequence, pagination_token, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (task_id) DO UPDATE SET
			last_sequence = EXCLUDED.last_sequence,
			pagination_token = EXCLUDED.pagination_token,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		cursor.TaskID,
		cursor.LastSequence,
		cursor.PaginationToken,
	)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
