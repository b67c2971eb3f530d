package domain

import "time"

// LedgerRecord is one sequentially-numbered unit of chain history.
// Immutable once written; Sequence is the replay ordering key.
type LedgerRecord struct {
	Sequence  uint64
	Hash      string
	CloseTime time.Time
	TxCount   int
	OpCount   int
}

// IngestedPayment is a payment extracted from a ledger, keyed by the
// operation ID assigned by the remote service.
type IngestedPayment struct {
	OperationID    string
	LedgerSequence uint64
	TxHash         string
	From           string
	To             string
	AssetCode      string
	Amount         string
	CreatedAt      time.Time
}

// IngestedTransaction is a raw transaction envelope, keyed by its hash.
type IngestedTransaction struct {
	TxHash         string
	LedgerSequence uint64
	SourceAccount  string
	FeeCharged     int64
	OperationCount int
	Successful     bool
	FeeBump        bool
	FeeBumpSource  string
	AccountMerge   bool
	MergedAccount  string
	CreatedAt      time.Time
}

// ContractEvent is a contract-emitted event, keyed by
// (ledger sequence, tx hash, event index).
type ContractEvent struct {
	LedgerSequence uint64
	TxHash         string
	EventIndex     int
	ContractID     string
	EventType      string
	Network        string
	Payload        map[string]any
	EmittedAt      time.Time
}

// EventKey returns the natural idempotency key for a contract event.
func (e *ContractEvent) EventKey() [3]any {
	return [3]any{e.LedgerSequence, e.TxHash, e.EventIndex}
}
