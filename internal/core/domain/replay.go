package domain

import "time"

type ReplayMode string

const (
	// ReplayModeFull processes every event from genesis.
	ReplayModeFull ReplayMode = "full"
	// ReplayModeIncremental starts from the latest checkpoint.
	ReplayModeIncremental ReplayMode = "incremental"
	// ReplayModeVerification verifies stored hashes after each chunk and
	// fails on the first mismatch.
	ReplayModeVerification ReplayMode = "verification"
	// ReplayModeDebug is Full with verbose tracing; combined with dry-run it
	// leaves stored checkpoints untouched.
	ReplayModeDebug ReplayMode = "debug"
)

type RangeKind string

const (
	RangeAll            RangeKind = "all"
	RangeFrom           RangeKind = "from"
	RangeTo             RangeKind = "to"
	RangeFromTo         RangeKind = "from_to"
	RangeFromCheckpoint RangeKind = "from_checkpoint"
)

// ReplayRange selects which ledgers a session covers. Start/End are ledger
// sequences; CheckpointID is only set for RangeFromCheckpoint.
type ReplayRange struct {
	Kind         RangeKind
	Start        uint64
	End          uint64
	CheckpointID string
}

// ReplayFilter narrows the event stream. Empty slices match everything.
type ReplayFilter struct {
	ContractIDs []string
	EventTypes  []string
	Network     string
}

// ReplayConfig is immutable once a session starts.
type ReplayConfig struct {
	Mode      ReplayMode
	Range     ReplayRange
	Filter    ReplayFilter
	BatchSize int
	DryRun    bool
	Verbose   bool
}

type ReplayStatus string

const (
	ReplayStatusCreated   ReplayStatus = "created"
	ReplayStatusRunning   ReplayStatus = "running"
	ReplayStatusCompleted ReplayStatus = "completed"
	ReplayStatusFailed    ReplayStatus = "failed"
	ReplayStatusCancelled ReplayStatus = "cancelled"
)

// ReplayMetadata is the session status record returned to the control
// surface.
type ReplayMetadata struct {
	SessionID      string
	Status         ReplayStatus
	Mode           ReplayMode
	StartLedger    uint64
	EndLedger      uint64
	EventsApplied  uint64
	EventsSkipped  uint64
	SkippedUnknown uint64
	// ChunksVerified counts chunk boundaries whose stored snapshot hash was
	// checked. Zero after a verification run means the boundaries never
	// lined up with a persisted snapshot and nothing was actually verified.
	ChunksVerified uint64
	LastLedger     uint64
	Error          string
	StartedAt      time.Time
	EndedAt        *time.Time
}
