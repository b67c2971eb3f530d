package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
)

// EventRepo implements storage.EventRepository using PostgreSQL.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates a new PostgreSQL contract event repository.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// InsertIfAbsent saves an event; an existing key is left untouched.
func (r *EventRepo) InsertIfAbsent(ctx context.Context, event *domain.ContractEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO contract_events (ledger_sequence, tx_hash, event_index, contract_id, event_type, network, payload, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ledger_sequence, tx_hash, event_index) DO NOTHING
	`

	emittedAt := event.EmittedAt
	if emittedAt.IsZero() {
		emittedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, query,
		event.LedgerSequence,
		event.TxHash,
		event.EventIndex,
		event.ContractID,
		event.EventType,
		event.Network,
		payload,
		emittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert contract event: %w", err)
	}
	return nil
}

type eventRow struct {
	LedgerSequence uint64    `db:"ledger_sequence"`
	TxHash         string    `db:"tx_hash"`
	EventIndex     int       `db:"event_index"`
	ContractID     string    `db:"contract_id"`
	EventType      string    `db:"event_type"`
	Network        string    `db:"network"`
	Payload        []byte    `db:"payload"`
	EmittedAt      time.Time `db:"emitted_at"`
}

// ListByRange retrieves events in [start, end] (end of 0 means unbounded)
// in ascending (ledger, tx hash, event index) order.
func (r *EventRepo) ListByRange(ctx context.Context, start, end uint64) ([]*domain.ContractEvent, error) {
	query := `
		SELECT ledger_sequence, tx_hash, event_index, contract_id, event_type, network, payload, emitted_at
		FROM contract_events
		WHERE ledger_sequence >= $1 AND ($2 = 0 OR ledger_sequence <= $2)
		ORDER BY ledger_sequence ASC, tx_hash ASC, event_index ASC
	`

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, start, end); err != nil {
		return nil, fmt.Errorf("failed to list contract events: %w", err)
	}

	events := make([]*domain.ContractEvent, 0, len(rows))
	for _, row := range rows {
		var payload map[string]any
		if len(row.Payload) > 0 {
			if err := json.Unmarshal(row.Payload, &payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
			}
		}
		events = append(events, &domain.ContractEvent{
			LedgerSequence: row.LedgerSequence,
			TxHash:         row.TxHash,
			EventIndex:     row.EventIndex,
			ContractID:     row.ContractID,
			EventType:      row.EventType,
			Network:        row.Network,
			Payload:        payload,
			EmittedAt:      row.EmittedAt,
		})
	}
	return events, nil
}

// Count returns the number of persisted contract events.
func (r *EventRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM contract_events`); err != nil {
		return 0, fmt.Errorf("failed to count contract events: %w", err)
	}
	return count, nil
}
