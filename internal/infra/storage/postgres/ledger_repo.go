package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
)

// LedgerRepo implements storage.LedgerRepository using PostgreSQL.
type LedgerRepo struct {
	db *DB
}

// NewLedgerRepo creates a new PostgreSQL ledger repository.
func NewLedgerRepo(db *DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// InsertIfAbsent saves a ledger; an existing sequence is left untouched.
func (r *LedgerRepo) InsertIfAbsent(ctx context.Context, ledger *domain.LedgerRecord) error {
	query := `
		INSERT INTO ledgers (sequence, hash, close_time, tx_count, op_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		ledger.Sequence,
		ledger.Hash,
		ledger.CloseTime,
		ledger.TxCount,
		ledger.OpCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger: %w", err)
	}
	return nil
}

type ledgerRow struct {
	Sequence  uint64    `db:"sequence"`
	Hash      string    `db:"hash"`
	CloseTime time.Time `db:"close_time"`
	TxCount   int       `db:"tx_count"`
	OpCount   int       `db:"op_count"`
}

func (l *ledgerRow) toDomain() *domain.LedgerRecord {
	return &domain.LedgerRecord{
		Sequence:  l.Sequence,
		Hash:      l.Hash,
		CloseTime: l.CloseTime,
		TxCount:   l.TxCount,
		OpCount:   l.OpCount,
	}
}

// GetBySequence retrieves a ledger by sequence.
func (r *LedgerRepo) GetBySequence(ctx context.Context, sequence uint64) (*domain.LedgerRecord, error) {
	query := `
		SELECT sequence, hash, close_time, tx_count, op_count
		FROM ledgers
		WHERE sequence = $1
	`

	var row ledgerRow
	err := r.db.GetContext(ctx, &row, query, sequence)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}

	return row.toDomain(), nil
}

// GetLatest retrieves the highest-sequence ledger.
func (r *LedgerRepo) GetLatest(ctx context.Context) (*domain.LedgerRecord, error) {
	query := `
		SELECT sequence, hash, close_time, tx_count, op_count
		FROM ledgers
		ORDER BY sequence DESC
		LIMIT 1
	`

	var row ledgerRow
	err := r.db.GetContext(ctx, &row, query)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest ledger: %w", err)
	}

	return row.toDomain(), nil
}

// Count returns the number of persisted ledgers.
func (r *LedgerRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM ledgers`); err != nil {
		return 0, fmt.Errorf("failed to count ledgers: %w", err)
	}
	return count, nil
}
