package domain

import "time"

type CheckpointType string

const (
	CheckpointTypeReplay    CheckpointType = "replay"
	CheckpointTypeIngestion CheckpointType = "ingestion"
)

// Checkpoint is a durable (ledger, state hash) marker written after a batch
// of events has been folded. Append-only: never mutated after creation so
// the audit trail survives later failures.
type Checkpoint struct {
	ID        string
	SessionID string
	Type      CheckpointType
	Ledger    uint64
	StateHash string
	CreatedAt time.Time
}
