package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
)

// TxRepo implements storage.TransactionRepository using PostgreSQL.
type TxRepo struct {
	db *DB
}

// NewTxRepo creates a new PostgreSQL transaction repository.
func NewTxRepo(db *DB) *TxRepo {
	return &TxRepo{db: db}
}

// InsertIfAbsent saves a transaction; an existing hash is left untouched.
func (r *TxRepo) InsertIfAbsent(ctx context.Context, tx *domain.IngestedTransaction) error {
	query := `
		INSERT INTO transactions (
			tx_hash, ledger_sequence, source_account, fee_charged, operation_count,
			successful, fee_bump, fee_bump_source, account_merge, merged_account, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (tx_hash) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		tx.TxHash, tx.LedgerSequence, tx.SourceAccount,
		tx.FeeCharged, tx.OperationCount, tx.Successful,
		tx.FeeBump, tx.FeeBumpSource,
		tx.AccountMerge, tx.MergedAccount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

type txRow struct {
	TxHash         string    `db:"tx_hash"`
	LedgerSequence uint64    `db:"ledger_sequence"`
	SourceAccount  string    `db:"source_account"`
	FeeCharged     int64     `db:"fee_charged"`
	OperationCount int       `db:"operation_count"`
	Successful     bool      `db:"successful"`
	FeeBump        bool      `db:"fee_bump"`
	FeeBumpSource  string    `db:"fee_bump_source"`
	AccountMerge   bool      `db:"account_merge"`
	MergedAccount  string    `db:"merged_account"`
	CreatedAt      time.Time `db:"created_at"`
}

// GetByHash retrieves a transaction by hash.
func (r *TxRepo) GetByHash(ctx context.Context, txHash string) (*domain.IngestedTransaction, error) {
	query := `
		SELECT tx_hash, ledger_sequence, source_account, fee_charged, operation_count,
		       successful, fee_bump, fee_bump_source, account_merge, merged_account, created_at
		FROM transactions
		WHERE tx_hash = $1
	`

	var row txRow
	err := r.db.GetContext(ctx, &row, query, txHash)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &domain.IngestedTransaction{
		TxHash:         row.TxHash,
		LedgerSequence: row.LedgerSequence,
		SourceAccount:  row.SourceAccount,
		FeeCharged:     row.FeeCharged,
		OperationCount: row.OperationCount,
		Successful:     row.Successful,
		FeeBump:        row.FeeBump,
		FeeBumpSource:  row.FeeBumpSource,
		AccountMerge:   row.AccountMerge,
		MergedAccount:  row.MergedAccount,
		CreatedAt:      row.CreatedAt,
	}, nil
}

// Count returns the number of persisted transactions.
func (r *TxRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM transactions`); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}
