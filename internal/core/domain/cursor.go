package domain

import "time"

// Cursor is the sole resumption anchor for an ingestion task: the last
// fully-persisted ledger sequence plus the remote pagination token.
// One row per task, overwritten on each successful batch.
type Cursor struct {
	TaskID          string
	LastSequence    uint64
	PaginationToken string
	UpdatedAt       time.Time
}
