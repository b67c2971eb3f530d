// Package checkpoint records durable replay and ingestion progress markers
// so interrupted sessions can resume without refolding from genesis.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage"
)

// Manager creates and queries checkpoints on top of the checkpoint
// repository. It owns nothing but the repository handle and is safe for
// concurrent use if the repository is.
type Manager struct {
	repo storage.CheckpointRepository
	log  *slog.Logger
	now  func() time.Time
}

// NewManager creates a checkpoint manager.
func NewManager(repo storage.CheckpointRepository, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{repo: repo, log: log, now: time.Now}
}

// Record persists a new checkpoint for a session at the given ledger and
// state hash, returning the stored checkpoint.
func (m *Manager) Record(ctx context.Context, sessionID string, ctype domain.CheckpointType, ledger uint64, stateHash string) (*domain.Checkpoint, error) {
	cp := &domain.Checkpoint{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      ctype,
		Ledger:    ledger,
		StateHash: stateHash,
		CreatedAt: m.now().UTC(),
	}
	if err := m.repo.Insert(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to record checkpoint at ledger %d: %w", ledger, err)
	}
	m.log.Debug("checkpoint recorded",
		"session", sessionID,
		"type", string(ctype),
		"ledger", ledger,
	)
	return cp, nil
}

// Get retrieves a checkpoint by ID.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Checkpoint, error) {
	return m.repo.GetByID(ctx, id)
}

// ListForSession yields a session's checkpoints in ascending ledger order.
func (m *Manager) ListForSession(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error) {
	return m.repo.ListForSession(ctx, sessionID)
}

// Latest returns the most recent checkpoint across all sessions, nil if
// none exist.
func (m *Manager) Latest(ctx context.Context) (*domain.Checkpoint, error) {
	return m.repo.Latest(ctx)
}

// CleanupOlderThan deletes checkpoints older than the retention window and
// returns how many were removed.
func (m *Manager) CleanupOlderThan(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := m.now().Add(-retention)
	deleted, err := m.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up checkpoints: %w", err)
	}
	if deleted > 0 {
		m.log.Info("cleaned up old checkpoints", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}
