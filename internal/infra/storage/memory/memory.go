// Package memory provides a map-backed implementation of the storage
// repositories, used by tests and by storage-less development mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage"
)

type MemoryStorage struct {
	mu          sync.RWMutex
	ledgers     map[uint64]*domain.LedgerRecord
	payments    map[string]*domain.IngestedPayment
	txs         map[string]*domain.IngestedTransaction
	events      map[string]*domain.ContractEvent
	cursors     map[string]*domain.Cursor
	checkpoints []*domain.Checkpoint
	sessions    map[string]*domain.ReplayMetadata
	snapshots   map[uint64]stateSnapshot
}

type stateSnapshot struct {
	serialized []byte
	hash       string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		ledgers:   make(map[uint64]*domain.LedgerRecord),
		payments:  make(map[string]*domain.IngestedPayment),
		txs:       make(map[string]*domain.IngestedTransaction),
		events:    make(map[string]*domain.ContractEvent),
		cursors:   make(map[string]*domain.Cursor),
		sessions:  make(map[string]*domain.ReplayMetadata),
		snapshots: make(map[uint64]stateSnapshot),
	}
}

func eventKey(e *domain.ContractEvent) string {
	return fmt.Sprintf("%d:%s:%d", e.LedgerSequence, e.TxHash, e.EventIndex)
}

// -----------------------------------------------------------------------------
// Ledger Repository
// -----------------------------------------------------------------------------

type LedgerRepo struct {
	store *MemoryStorage
}

func NewLedgerRepo(store *MemoryStorage) *LedgerRepo {
	return &LedgerRepo{store: store}
}

func (r *LedgerRepo) InsertIfAbsent(ctx context.Context, ledger *domain.LedgerRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.ledgers[ledger.Sequence]; ok {
		return nil
	}
	l := *ledger
	r.store.ledgers[ledger.Sequence] = &l
	return nil
}

func (r *LedgerRepo) GetBySequence(ctx context.Context, sequence uint64) (*domain.LedgerRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	l, ok := r.store.ledgers[sequence]
	if !ok {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (r *LedgerRepo) GetLatest(ctx context.Context) (*domain.LedgerRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var max *domain.LedgerRecord
	for _, l := range r.store.ledgers {
		if max == nil || l.Sequence > max.Sequence {
			max = l
		}
	}
	if max == nil {
		return nil, nil
	}
	c := *max
	return &c, nil
}

func (r *LedgerRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.ledgers), nil
}

// -----------------------------------------------------------------------------
// Payment Repository
// -----------------------------------------------------------------------------

type PaymentRepo struct {
	store *MemoryStorage
}

func NewPaymentRepo(store *MemoryStorage) *PaymentRepo {
	return &PaymentRepo{store: store}
}

func (r *PaymentRepo) InsertIfAbsent(ctx context.Context, payment *domain.IngestedPayment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.payments[payment.OperationID]; ok {
		return nil
	}
	p := *payment
	r.store.payments[payment.OperationID] = &p
	return nil
}

func (r *PaymentRepo) ListByLedger(ctx context.Context, sequence uint64) ([]*domain.IngestedPayment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.IngestedPayment
	for _, p := range r.store.payments {
		if p.LedgerSequence == sequence {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OperationID < out[j].OperationID })
	return out, nil
}

func (r *PaymentRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.payments), nil
}

// -----------------------------------------------------------------------------
// Transaction Repository
// -----------------------------------------------------------------------------

type TxRepo struct {
	store *MemoryStorage
}

func NewTxRepo(store *MemoryStorage) *TxRepo {
	return &TxRepo{store: store}
}

func (r *TxRepo) InsertIfAbsent(ctx context.Context, tx *domain.IngestedTransaction) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.txs[tx.TxHash]; ok {
		return nil
	}
	t := *tx
	r.store.txs[tx.TxHash] = &t
	return nil
}

func (r *TxRepo) GetByHash(ctx context.Context, txHash string) (*domain.IngestedTransaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.txs[txHash]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (r *TxRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.txs), nil
}

// -----------------------------------------------------------------------------
// Event Repository
// -----------------------------------------------------------------------------

type EventRepo struct {
	store *MemoryStorage
}

func NewEventRepo(store *MemoryStorage) *EventRepo {
	return &EventRepo{store: store}
}

func (r *EventRepo) InsertIfAbsent(ctx context.Context, event *domain.ContractEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := eventKey(event)
	if _, ok := r.store.events[key]; ok {
		return nil
	}
	e := *event
	r.store.events[key] = &e
	return nil
}

func (r *EventRepo) ListByRange(ctx context.Context, start, end uint64) ([]*domain.ContractEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.ContractEvent
	for _, e := range r.store.events {
		if e.LedgerSequence < start {
			continue
		}
		if end > 0 && e.LedgerSequence > end {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LedgerSequence != out[j].LedgerSequence {
			return out[i].LedgerSequence < out[j].LedgerSequence
		}
		if out[i].TxHash != out[j].TxHash {
			return out[i].TxHash < out[j].TxHash
		}
		return out[i].EventIndex < out[j].EventIndex
	})
	return out, nil
}

func (r *EventRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.events), nil
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	store *MemoryStorage
}

func NewCursorRepo(store *MemoryStorage) *CursorRepo {
	return &CursorRepo{store: store}
}

func (r *CursorRepo) Get(ctx context.Context, taskID string) (*domain.Cursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.cursors[taskID]
	if !ok {
		return nil, storage.ErrCursorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *cursor
	c.UpdatedAt = time.Now()
	r.store.cursors[cursor.TaskID] = &c
	return nil
}

// -----------------------------------------------------------------------------
// Checkpoint Repository
// -----------------------------------------------------------------------------

type CheckpointRepo struct {
	store *MemoryStorage
}

func NewCheckpointRepo(store *MemoryStorage) *CheckpointRepo {
	return &CheckpointRepo{store: store}
}

func (r *CheckpointRepo) Insert(ctx context.Context, checkpoint *domain.Checkpoint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *checkpoint
	r.store.checkpoints = append(r.store.checkpoints, &c)
	return nil
}

func (r *CheckpointRepo) GetByID(ctx context.Context, id string) (*domain.Checkpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, c := range r.store.checkpoints {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, storage.ErrCheckpointNotFound
}

func (r *CheckpointRepo) ListForSession(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Checkpoint
	for _, c := range r.store.checkpoints {
		if c.SessionID == sessionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ledger < out[j].Ledger })
	return out, nil
}

func (r *CheckpointRepo) Latest(ctx context.Context) (*domain.Checkpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var max *domain.Checkpoint
	for _, c := range r.store.checkpoints {
		if max == nil || c.Ledger > max.Ledger ||
			(c.Ledger == max.Ledger && c.CreatedAt.After(max.CreatedAt)) {
			max = c
		}
	}
	if max == nil {
		return nil, nil
	}
	cp := *max
	return &cp, nil
}

func (r *CheckpointRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept := r.store.checkpoints[:0]
	deleted := 0
	for _, c := range r.store.checkpoints {
		if c.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	r.store.checkpoints = kept
	return deleted, nil
}

// -----------------------------------------------------------------------------
// Replay Session Repository
// -----------------------------------------------------------------------------

type SessionRepo struct {
	store *MemoryStorage
}

func NewSessionRepo(store *MemoryStorage) *SessionRepo {
	return &SessionRepo{store: store}
}

func (r *SessionRepo) Save(ctx context.Context, meta *domain.ReplayMetadata) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m := *meta
	r.store.sessions[meta.SessionID] = &m
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, sessionID string) (*domain.ReplayMetadata, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	m, ok := r.store.sessions[sessionID]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	mc := *m
	return &mc, nil
}

func (r *SessionRepo) List(ctx context.Context, limit int) ([]*domain.ReplayMetadata, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.ReplayMetadata, 0, len(r.store.sessions))
	for _, m := range r.store.sessions {
		mc := *m
		out = append(out, &mc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SessionRepo) Delete(ctx context.Context, sessionID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.sessions[sessionID]; !ok {
		return storage.ErrSessionNotFound
	}
	delete(r.store.sessions, sessionID)
	return nil
}

// -----------------------------------------------------------------------------
// State Snapshot Repository
// -----------------------------------------------------------------------------

type StateRepo struct {
	store *MemoryStorage
}

func NewStateRepo(store *MemoryStorage) *StateRepo {
	return &StateRepo{store: store}
}

func (r *StateRepo) Save(ctx context.Context, ledger uint64, serialized []byte, hash string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	data := make([]byte, len(serialized))
	copy(data, serialized)
	r.store.snapshots[ledger] = stateSnapshot{serialized: data, hash: hash}
	return nil
}

func (r *StateRepo) Load(ctx context.Context, ledger uint64) ([]byte, string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	snap, ok := r.store.snapshots[ledger]
	if !ok {
		return nil, "", storage.ErrStateNotFound
	}
	data := make([]byte, len(snap.serialized))
	copy(data, snap.serialized)
	return data, snap.hash, nil
}

// TamperStateHash overwrites the stored hash for a ledger. Test hook for
// corruption scenarios.
func (s *MemoryStorage) TamperStateHash(ledger uint64, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap, ok := s.snapshots[ledger]; ok {
		snap.hash = hash
		s.snapshots[ledger] = snap
	}
}

var (
	_ storage.LedgerRepository        = (*LedgerRepo)(nil)
	_ storage.PaymentRepository       = (*PaymentRepo)(nil)
	_ storage.TransactionRepository   = (*TxRepo)(nil)
	_ storage.EventRepository         = (*EventRepo)(nil)
	_ storage.CursorRepository        = (*CursorRepo)(nil)
	_ storage.CheckpointRepository    = (*CheckpointRepo)(nil)
	_ storage.ReplaySessionRepository = (*SessionRepo)(nil)
	_ storage.StateSnapshotRepository = (*StateRepo)(nil)
)
