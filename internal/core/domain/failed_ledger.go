package domain

import "time"

// FailedLedger records a ledger whose enrichment (payments, transactions)
// failed during ingestion. The ledger itself was persisted; only the
// enrichment is re-attempted by the dead-letter worker.
type FailedLedger struct {
	ID          string
	TaskID      string
	Sequence    uint64
	Reason      string
	RetryCount  int
	LastAttempt time.Time
	CreatedAt   time.Time
}
