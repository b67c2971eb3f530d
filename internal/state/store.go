package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/ledgerflow/internal/infra/storage"
)

// Store persists and restores state snapshots, guarding every load with a
// hash recomputation so corrupted or tampered snapshots are never trusted.
type Store struct {
	repo storage.StateSnapshotRepository
}

// NewStore creates a snapshot store backed by the given repository.
func NewStore(repo storage.StateSnapshotRepository) *Store {
	return &Store{repo: repo}
}

// Persist saves the state's canonical form together with its hash, keyed by
// the state's ledger.
func (s *Store) Persist(ctx context.Context, st *ApplicationState) (string, error) {
	data, err := Canonicalize(st)
	if err != nil {
		return "", err
	}
	sum, err := Hash(st)
	if err != nil {
		return "", err
	}
	if err := s.repo.Save(ctx, st.Ledger, data, sum); err != nil {
		return "", fmt.Errorf("failed to persist state at ledger %d: %w", st.Ledger, err)
	}
	return sum, nil
}

// Load restores the snapshot for a ledger. The stored hash is recomputed
// from the stored bytes and the load fails on any mismatch.
func (s *Store) Load(ctx context.Context, ledger uint64) (*ApplicationState, error) {
	data, storedHash, err := s.repo.Load(ctx, ledger)
	if err != nil {
		return nil, err
	}

	var st ApplicationState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode state at ledger %d: %w", ledger, err)
	}
	if st.Snapshots == nil {
		st.Snapshots = make(map[string]SnapshotState)
	}
	if st.Verifications == nil {
		st.Verifications = make(map[string]VerificationState)
	}
	if st.Metadata == nil {
		st.Metadata = make(map[string]string)
	}

	recomputed, err := Hash(&st)
	if err != nil {
		return nil, err
	}
	if recomputed != storedHash {
		return nil, fmt.Errorf("%w: ledger %d stored %s recomputed %s",
			ErrHashMismatch, ledger, storedHash, recomputed)
	}
	return &st, nil
}

// Verify recomputes the hash of the given state and compares it against the
// hash stored for the same ledger.
func (s *Store) Verify(ctx context.Context, st *ApplicationState) error {
	_, storedHash, err := s.repo.Load(ctx, st.Ledger)
	if err != nil {
		return err
	}
	recomputed, err := Hash(st)
	if err != nil {
		return err
	}
	if recomputed != storedHash {
		return fmt.Errorf("%w: ledger %d stored %s recomputed %s",
			ErrHashMismatch, st.Ledger, storedHash, recomputed)
	}
	return nil
}
