// Package state implements the deterministic state-reconstruction engine:
// an ordered fold of contract events into ApplicationState, verified by
// canonical content hashing.
package state

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/ledgerflow/internal/core/domain"
)

var (
	// ErrMissingField is returned when an event payload lacks a required
	// field. Structural, always fatal, never retried.
	ErrMissingField = errors.New("event payload missing required field")

	// ErrHashMismatch is returned when a stored hash does not match the
	// recomputed hash. Structural, always fatal.
	ErrHashMismatch = errors.New("state hash mismatch")

	// ErrLedgerRegression is returned when an event arrives out of order.
	ErrLedgerRegression = errors.New("event ledger below current state ledger")
)

// EventKind is the closed set of event types the builder understands.
// Anything else maps to KindUnknown, which is logged and skipped rather
// than silently ignored.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindSnapshotSubmitted
	KindSnapshotVerified
	KindEpochFinalized
	KindMetadataUpdated
)

// KindOf maps an event-type string to its variant.
func KindOf(eventType string) EventKind {
	switch eventType {
	case "snapshot_submitted":
		return KindSnapshotSubmitted
	case "snapshot_verified":
		return KindSnapshotVerified
	case "epoch_finalized":
		return KindEpochFinalized
	case "metadata_updated":
		return KindMetadataUpdated
	}
	return KindUnknown
}

// ApplyResult reports what a single Apply did.
type ApplyResult int

const (
	Applied ApplyResult = iota
	SkippedDuplicate
	SkippedUnknown
)

// SnapshotState is one submitted snapshot, keyed by epoch.
type SnapshotState struct {
	Epoch     uint64 `json:"epoch"`
	CID       string `json:"cid"`
	Submitter string `json:"submitter"`
	Ledger    uint64 `json:"ledger"`
	Finalized bool   `json:"finalized"`
}

// VerificationState is one verifier's attestation, keyed by "epoch:verifier".
type VerificationState struct {
	Epoch    uint64 `json:"epoch"`
	Verifier string `json:"verifier"`
	Valid    bool   `json:"valid"`
	Ledger   uint64 `json:"ledger"`
}

// ApplicationState is the rebuilt application view. It is owned exclusively
// by one Builder; nothing outside the builder mutates it. Ledger only ever
// increases.
type ApplicationState struct {
	Ledger        uint64                       `json:"ledger"`
	Snapshots     map[string]SnapshotState     `json:"snapshots"`
	Verifications map[string]VerificationState `json:"verifications"`
	Metadata      map[string]string            `json:"metadata"`
}

// NewApplicationState returns an empty state at ledger 0.
func NewApplicationState() *ApplicationState {
	return &ApplicationState{
		Snapshots:     make(map[string]SnapshotState),
		Verifications: make(map[string]VerificationState),
		Metadata:      make(map[string]string),
	}
}

// Builder folds ordered events into an ApplicationState. Each replay
// session owns exactly one Builder; it is not safe for concurrent use and
// is not meant to be shared.
type Builder struct {
	state *ApplicationState
	log   *slog.Logger
}

// NewBuilder creates a builder with a fresh empty state.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{state: NewApplicationState(), log: log}
}

// NewBuilderWith creates a builder that resumes folding on top of a
// previously restored state. The builder takes ownership of st.
func NewBuilderWith(st *ApplicationState, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	if st == nil {
		st = NewApplicationState()
	}
	return &Builder{state: st, log: log}
}

// State exposes the current state for inspection. Callers must not mutate
// the returned value.
func (b *Builder) State() *ApplicationState { return b.state }

// Ledger returns the highest ledger folded so far.
func (b *Builder) Ledger() uint64 { return b.state.Ledger }

// Apply folds one event. Reapplying an event that already populated its key
// returns SkippedDuplicate and leaves the state untouched, which makes
// reprocessing from a checkpoint safe. A missing required field fails the
// whole apply with ErrMissingField.
func (b *Builder) Apply(event *domain.ContractEvent) (ApplyResult, error) {
	if event.LedgerSequence < b.state.Ledger {
		return SkippedDuplicate, fmt.Errorf("%w: event at %d, state at %d",
			ErrLedgerRegression, event.LedgerSequence, b.state.Ledger)
	}

	var result ApplyResult
	var err error

	switch KindOf(event.EventType) {
	case KindSnapshotSubmitted:
		result, err = b.applySnapshotSubmitted(event)
	case KindSnapshotVerified:
		result, err = b.applySnapshotVerified(event)
	case KindEpochFinalized:
		result, err = b.applyEpochFinalized(event)
	case KindMetadataUpdated:
		result, err = b.applyMetadataUpdated(event)
	default:
		b.log.Warn("skipping unknown event type",
			"type", event.EventType,
			"ledger", event.LedgerSequence,
			"tx", event.TxHash,
		)
		return SkippedUnknown, nil
	}
	if err != nil {
		return result, err
	}

	if event.LedgerSequence > b.state.Ledger {
		b.state.Ledger = event.LedgerSequence
	}
	return result, nil
}

func requireString(event *domain.ContractEvent, field string) (string, error) {
	v, ok := event.Payload[field]
	if !ok {
		return "", fmt.Errorf("%w: %q (event type %s, ledger %d)",
			ErrMissingField, field, event.EventType, event.LedgerSequence)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %q is not a non-empty string (event type %s, ledger %d)",
			ErrMissingField, field, event.EventType, event.LedgerSequence)
	}
	return s, nil
}

func requireEpoch(event *domain.ContractEvent) (uint64, string, error) {
	v, ok := event.Payload["epoch"]
	if !ok {
		return 0, "", fmt.Errorf("%w: %q (event type %s, ledger %d)",
			ErrMissingField, "epoch", event.EventType, event.LedgerSequence)
	}
	// JSON numbers decode as float64; accept integral types too.
	switch n := v.(type) {
	case float64:
		return uint64(n), fmt.Sprintf("%d", uint64(n)), nil
	case uint64:
		return n, fmt.Sprintf("%d", n), nil
	case int:
		return uint64(n), fmt.Sprintf("%d", n), nil
	}
	return 0, "", fmt.Errorf("%w: %q is not a number (event type %s, ledger %d)",
		ErrMissingField, "epoch", event.EventType, event.LedgerSequence)
}

func (b *Builder) applySnapshotSubmitted(event *domain.ContractEvent) (ApplyResult, error) {
	epoch, key, err := requireEpoch(event)
	if err != nil {
		return Applied, err
	}
	cid, err := requireString(event, "snapshot_cid")
	if err != nil {
		return Applied, err
	}
	submitter, err := requireString(event, "submitter")
	if err != nil {
		return Applied, err
	}

	if _, exists := b.state.Snapshots[key]; exists {
		return SkippedDuplicate, nil
	}
	b.state.Snapshots[key] = SnapshotState{
		Epoch:     epoch,
		CID:       cid,
		Submitter: submitter,
		Ledger:    event.LedgerSequence,
	}
	return Applied, nil
}

func (b *Builder) applySnapshotVerified(event *domain.ContractEvent) (ApplyResult, error) {
	epoch, epochKey, err := requireEpoch(event)
	if err != nil {
		return Applied, err
	}
	verifier, err := requireString(event, "verifier")
	if err != nil {
		return Applied, err
	}
	valid := true
	if v, ok := event.Payload["valid"].(bool); ok {
		valid = v
	}

	key := epochKey + ":" + verifier
	if _, exists := b.state.Verifications[key]; exists {
		return SkippedDuplicate, nil
	}
	b.state.Verifications[key] = VerificationState{
		Epoch:    epoch,
		Verifier: verifier,
		Valid:    valid,
		Ledger:   event.LedgerSequence,
	}
	return Applied, nil
}

func (b *Builder) applyEpochFinalized(event *domain.ContractEvent) (ApplyResult, error) {
	_, key, err := requireEpoch(event)
	if err != nil {
		return Applied, err
	}

	snap, exists := b.state.Snapshots[key]
	if !exists {
		return Applied, fmt.Errorf("%w: no snapshot for finalized epoch %s (ledger %d)",
			ErrMissingField, key, event.LedgerSequence)
	}
	if snap.Finalized {
		return SkippedDuplicate, nil
	}
	snap.Finalized = true
	b.state.Snapshots[key] = snap
	return Applied, nil
}

func (b *Builder) applyMetadataUpdated(event *domain.ContractEvent) (ApplyResult, error) {
	key, err := requireString(event, "key")
	if err != nil {
		return Applied, err
	}
	value, err := requireString(event, "value")
	if err != nil {
		return Applied, err
	}

	if _, exists := b.state.Metadata[key]; exists {
		return SkippedDuplicate, nil
	}
	b.state.Metadata[key] = value
	return Applied, nil
}
