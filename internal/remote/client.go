// Package remote defines the abstract capability to fetch ledger history
// from a remote indexing service. The core is agnostic to the underlying
// wire format; implementations live under internal/remote.
package remote

import (
	"context"

	"github.com/vietddude/ledgerflow/internal/core/domain"
)

// LedgerPage is one page of ledgers plus the pagination token for the next
// fetch. An empty Cursor means the stream is exhausted for now.
type LedgerPage struct {
	Ledgers []domain.LedgerRecord
	Cursor  string
}

// HealthInfo reports remote service availability and the retention window.
type HealthInfo struct {
	Healthy      bool
	OldestLedger uint64
	LatestLedger uint64
}

// EventQuery selects contract events by ledger range and filter.
type EventQuery struct {
	StartLedger uint64
	EndLedger   uint64
	ContractIDs []string
	EventTypes  []string
	Network     string
}

// DataClient is the upstream dependency contract. All methods are paged or
// per-ledger reads; implementations must be safe for concurrent use.
type DataClient interface {
	// FetchLedgers returns up to limit ledgers starting at start, or at the
	// position encoded by cursor when it is non-empty.
	FetchLedgers(ctx context.Context, start uint64, limit int, cursor string) (*LedgerPage, error)

	FetchPaymentsForLedger(ctx context.Context, sequence uint64) ([]domain.IngestedPayment, error)

	FetchTransactionsForLedger(ctx context.Context, sequence uint64) ([]domain.IngestedTransaction, error)

	FetchOperationsForLedger(ctx context.Context, sequence uint64) ([]map[string]any, error)

	FetchContractEvents(ctx context.Context, query EventQuery) ([]domain.ContractEvent, error)

	// Health probes the service; used to seed the ingestion cursor when no
	// durable cursor exists yet.
	Health(ctx context.Context) (*HealthInfo, error)
}
