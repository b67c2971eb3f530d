package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/ledgerflow/internal/core/domain"
)

// FailedLedgerQueue is a Redis-backed dead-letter queue for ledgers whose
// enrichment failed during ingestion. Items are prioritized by retry count
// so the least-attempted ledgers are retried first.
type FailedLedgerQueue struct {
	rdb    *redis.Client
	taskID string
}

// NewFailedLedgerQueue creates a queue scoped to one ingestion task.
func NewFailedLedgerQueue(client *Client, taskID string) *FailedLedgerQueue {
	return &FailedLedgerQueue{
		rdb:    client.rdb,
		taskID: taskID,
	}
}

func (q *FailedLedgerQueue) queueKey() string {
	return fmt.Sprintf("failed_ledgers:%s", q.taskID)
}

func (q *FailedLedgerQueue) itemKey(id string) string {
	return fmt.Sprintf("failed_ledger:%s:%s", q.taskID, id)
}

// Add enqueues a failed enrichment.
func (q *FailedLedgerQueue) Add(ctx context.Context, fl *domain.FailedLedger) error {
	data, err := json.Marshal(fl)
	if err != nil {
		return fmt.Errorf("failed to marshal failed ledger: %w", err)
	}

	if err := q.rdb.Set(ctx, q.itemKey(fl.ID), data, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to set failed ledger: %w", err)
	}

	// Score = retry count; lower scores are retried first.
	if err := q.rdb.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  float64(fl.RetryCount),
		Member: fl.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to queue: %w", err)
	}

	return nil
}

// GetNext retrieves the next failed ledger to retry, nil when empty.
func (q *FailedLedgerQueue) GetNext(ctx context.Context) (*domain.FailedLedger, error) {
	results, err := q.rdb.ZRange(ctx, q.queueKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	id := results[0]
	data, err := q.rdb.Get(ctx, q.itemKey(id)).Bytes()
	if err == redis.Nil {
		// Data expired but ID still in queue, remove it
		q.rdb.ZRem(ctx, q.queueKey(), id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed ledger: %w", err)
	}

	var fl domain.FailedLedger
	if err := json.Unmarshal(data, &fl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed ledger: %w", err)
	}
	return &fl, nil
}

// IncrementRetry increments retry count and updates the last attempt time.
func (q *FailedLedgerQueue) IncrementRetry(ctx context.Context, id string) error {
	data, err := q.rdb.Get(ctx, q.itemKey(id)).Bytes()
	if err != nil {
		return fmt.Errorf("failed to get failed ledger: %w", err)
	}

	var fl domain.FailedLedger
	if err := json.Unmarshal(data, &fl); err != nil {
		return fmt.Errorf("failed to unmarshal failed ledger: %w", err)
	}

	fl.RetryCount++
	fl.LastAttempt = time.Now()

	newData, err := json.Marshal(fl)
	if err != nil {
		return fmt.Errorf("failed to marshal failed ledger: %w", err)
	}
	if err := q.rdb.Set(ctx, q.itemKey(id), newData, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to set failed ledger: %w", err)
	}

	if err := q.rdb.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  float64(fl.RetryCount),
		Member: id,
	}).Err(); err != nil {
		return fmt.Errorf("failed to update queue: %w", err)
	}
	return nil
}

// MarkResolved removes a successfully-retried entry.
func (q *FailedLedgerQueue) MarkResolved(ctx context.Context, id string) error {
	if err := q.rdb.ZRem(ctx, q.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	if err := q.rdb.Del(ctx, q.itemKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete failed ledger: %w", err)
	}
	return nil
}

// Count returns the queue depth.
func (q *FailedLedgerQueue) Count(ctx context.Context) (int, error) {
	count, err := q.rdb.ZCard(ctx, q.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
