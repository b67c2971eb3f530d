package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage"
)

// ReplayRepo implements storage.ReplaySessionRepository using PostgreSQL.
type ReplayRepo struct {
	db *DB
}

// NewReplayRepo creates a new PostgreSQL replay session repository.
func NewReplayRepo(db *DB) *ReplayRepo {
	return &ReplayRepo{db: db}
}

type sessionRow struct {
	SessionID      string       `db:"session_id"`
	Status         string       `db:"status"`
	Mode           string       `db:"mode"`
	StartLedger    uint64       `db:"start_ledger"`
	EndLedger      uint64       `db:"end_ledger"`
	EventsApplied  uint64       `db:"events_applied"`
	EventsSkipped  uint64       `db:"events_skipped"`
	SkippedUnknown uint64       `db:"skipped_unknown"`
	LastLedger     uint64       `db:"last_ledger"`
	Error          string       `db:"error"`
	StartedAt      time.Time    `db:"started_at"`
	EndedAt        sql.NullTime `db:"ended_at"`
}

func (s *sessionRow) toDomain() *domain.ReplayMetadata {
	meta := &domain.ReplayMetadata{
		SessionID:      s.SessionID,
		Status:         domain.ReplayStatus(s.Status),
		Mode:           domain.ReplayMode(s.Mode),
		StartLedger:    s.StartLedger,
		EndLedger:      s.EndLedger,
		EventsApplied:  s.EventsApplied,
		EventsSkipped:  s.EventsSkipped,
		SkippedUnknown: s.SkippedUnknown,
		LastLedger:     s.LastLedger,
		Error:          s.Error,
		StartedAt:      s.StartedAt,
	}
	if s.EndedAt.Valid {
		t := s.EndedAt.Time
		meta.EndedAt = &t
	}
	return meta
}

// Save upserts a session status record.
func (r *ReplayRepo) Save(ctx context.Context, meta *domain.ReplayMetadata) error {
	query := `
		INSERT INTO replay_sessions (
			session_id, status, mode, start_ledger, end_ledger,
			events_applied, events_skipped, skipped_unknown, last_ledger, error, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			events_applied = EXCLUDED.events_applied,
			events_skipped = EXCLUDED.events_skipped,
			skipped_unknown = EXCLUDED.skipped_unknown,
			last_ledger = EXCLUDED.last_ledger,
			error = EXCLUDED.error,
			ended_at = EXCLUDED.ended_at
	`

	var endedAt sql.NullTime
	if meta.EndedAt != nil {
		endedAt = sql.NullTime{Time: *meta.EndedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		meta.SessionID, string(meta.Status), string(meta.Mode),
		meta.StartLedger, meta.EndLedger,
		meta.EventsApplied, meta.EventsSkipped, meta.SkippedUnknown,
		meta.LastLedger, meta.Error, meta.StartedAt, endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save replay session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (r *ReplayRepo) Get(ctx context.Context, sessionID string) (*domain.ReplayMetadata, error) {
	query := `
		SELECT session_id, status, mode, start_ledger, end_ledger,
		       events_applied, events_skipped, skipped_unknown, last_ledger, error, started_at, ended_at
		FROM replay_sessions
		WHERE session_id = $1
	`

	var row sessionRow
	err := r.db.GetContext(ctx, &row, query, sessionID)
	if err == sql.ErrNoRows {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get replay session: %w", err)
	}

	return row.toDomain(), nil
}

// List retrieves the most recently started sessions, newest first.
func (r *ReplayRepo) List(ctx context.Context, limit int) ([]*domain.ReplayMetadata, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT session_id, status, mode, start_ledger, end_ledger,
		       events_applied, events_skipped, skipped_unknown, last_ledger, error, started_at, ended_at
		FROM replay_sessions
		ORDER BY started_at DESC
		LIMIT $1
	`

	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list replay sessions: %w", err)
	}

	sessions := make([]*domain.ReplayMetadata, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].toDomain())
	}
	return sessions, nil
}

// Delete removes a session record.
func (r *ReplayRepo) Delete(ctx context.Context, sessionID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM replay_sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete replay session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrSessionNotFound
	}
	return nil
}
