package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vietddude/ledgerflow/internal/infra/storage"
)

// StateRepo implements storage.StateSnapshotRepository using PostgreSQL.
type StateRepo struct {
	db *DB
}

// NewStateRepo creates a new PostgreSQL state snapshot repository.
func NewStateRepo(db *DB) *StateRepo {
	return &StateRepo{db: db}
}

// Save overwrites the serialized state and hash for a ledger.
func (r *StateRepo) Save(ctx context.Context, ledger uint64, serialized []byte, hash string) error {
	query := `
		INSERT INTO replay_states (ledger, state, state_hash, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (ledger) DO UPDATE SET
			state = EXCLUDED.state,
			state_hash = EXCLUDED.state_hash,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, ledger, serialized, hash); err != nil {
		return fmt.Errorf("failed to save state snapshot: %w", err)
	}
	return nil
}

// Load retrieves the serialized state and stored hash for a ledger.
func (r *StateRepo) Load(ctx context.Context, ledger uint64) ([]byte, string, error) {
	query := `SELECT state, state_hash FROM replay_states WHERE ledger = $1`

	var row struct {
		State     []byte `db:"state"`
		StateHash string `db:"state_hash"`
	}
	err := r.db.GetContext(ctx, &row, query, ledger)
	if err == sql.ErrNoRows {
		return nil, "", storage.ErrStateNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load state snapshot: %w", err)
	}

	return row.State, row.StateHash, nil
}
