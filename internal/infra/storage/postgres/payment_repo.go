package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
)

// PaymentRepo implements storage.PaymentRepository using PostgreSQL.
type PaymentRepo struct {
	db *DB
}

// NewPaymentRepo creates a new PostgreSQL payment repository.
func NewPaymentRepo(db *DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

// InsertIfAbsent saves a payment; an existing operation ID is left untouched.
func (r *PaymentRepo) InsertIfAbsent(ctx context.Context, payment *domain.IngestedPayment) error {
	query := `
		INSERT INTO payments (operation_id, ledger_sequence, tx_hash, from_account, to_account, asset_code, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (operation_id) DO NOTHING
	`

	createdAt := payment.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		payment.OperationID,
		payment.LedgerSequence,
		payment.TxHash,
		payment.From,
		payment.To,
		payment.AssetCode,
		payment.Amount,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

type paymentRow struct {
	OperationID    string    `db:"operation_id"`
	LedgerSequence uint64    `db:"ledger_sequence"`
	TxHash         string    `db:"tx_hash"`
	From           string    `db:"from_account"`
	To             string    `db:"to_account"`
	AssetCode      string    `db:"asset_code"`
	Amount         string    `db:"amount"`
	CreatedAt      time.Time `db:"created_at"`
}

// ListByLedger retrieves payments for a ledger in operation-id order.
func (r *PaymentRepo) ListByLedger(ctx context.Context, sequence uint64) ([]*domain.IngestedPayment, error) {
	query := `
		SELECT operation_id, ledger_sequence, tx_hash, from_account, to_account, asset_code, amount, created_at
		FROM payments
		WHERE ledger_sequence = $1
		ORDER BY operation_id ASC
	`

	var rows []paymentRow
	if err := r.db.SelectContext(ctx, &rows, query, sequence); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	payments := make([]*domain.IngestedPayment, 0, len(rows))
	for _, row := range rows {
		payments = append(payments, &domain.IngestedPayment{
			OperationID:    row.OperationID,
			LedgerSequence: row.LedgerSequence,
			TxHash:         row.TxHash,
			From:           row.From,
			To:             row.To,
			AssetCode:      row.AssetCode,
			Amount:         row.Amount,
			CreatedAt:      row.CreatedAt,
		})
	}
	return payments, nil
}

// Count returns the number of persisted payments.
func (r *PaymentRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM payments`); err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return count, nil
}
