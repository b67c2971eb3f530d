package remote

import (
	"context"
	"time"

	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/metrics"
	"github.com/vietddude/ledgerflow/internal/resilience"
)

// ResilientClient decorates a DataClient with a circuit breaker and retry
// policy. Every remote call made by ingestion or replay goes through here;
// the breaker instance is owned by the caller and passed in explicitly so
// one breaker guards one logical endpoint.
type ResilientClient struct {
	inner   DataClient
	breaker *resilience.CircuitBreaker
	policy  resilience.RetryPolicy
}

// NewResilientClient wraps inner with the given breaker and retry policy.
func NewResilientClient(inner DataClient, breaker *resilience.CircuitBreaker, policy resilience.RetryPolicy) *ResilientClient {
	return &ResilientClient{inner: inner, breaker: breaker, policy: policy}
}

// Breaker exposes the guarding breaker for health reporting.
func (c *ResilientClient) Breaker() *resilience.CircuitBreaker { return c.breaker }

// call runs op through the breaker and retry policy, recording per-operation
// call counts, latency, and classified errors.
func call[T any](ctx context.Context, c *ResilientClient, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	metrics.RemoteCallsTotal.WithLabelValues(operation).Inc()
	start := time.Now()
	result, err := resilience.Execute(ctx, c.breaker, c.policy, op)
	metrics.RemoteCallLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteErrorsTotal.WithLabelValues(operation, string(resilience.Classify(err).Kind)).Inc()
	}
	return result, err
}

func (c *ResilientClient) FetchLedgers(ctx context.Context, start uint64, limit int, cursor string) (*LedgerPage, error) {
	return call(ctx, c, "fetch_ledgers", func(ctx context.Context) (*LedgerPage, error) {
		return c.inner.FetchLedgers(ctx, start, limit, cursor)
	})
}

func (c *ResilientClient) FetchPaymentsForLedger(ctx context.Context, sequence uint64) ([]domain.IngestedPayment, error) {
	return call(ctx, c, "fetch_payments", func(ctx context.Context) ([]domain.IngestedPayment, error) {
		return c.inner.FetchPaymentsForLedger(ctx, sequence)
	})
}

func (c *ResilientClient) FetchTransactionsForLedger(ctx context.Context, sequence uint64) ([]domain.IngestedTransaction, error) {
	return call(ctx, c, "fetch_transactions", func(ctx context.Context) ([]domain.IngestedTransaction, error) {
		return c.inner.FetchTransactionsForLedger(ctx, sequence)
	})
}

func (c *ResilientClient) FetchOperationsForLedger(ctx context.Context, sequence uint64) ([]map[string]any, error) {
	return call(ctx, c, "fetch_operations", func(ctx context.Context) ([]map[string]any, error) {
		return c.inner.FetchOperationsForLedger(ctx, sequence)
	})
}

func (c *ResilientClient) FetchContractEvents(ctx context.Context, query EventQuery) ([]domain.ContractEvent, error) {
	return call(ctx, c, "fetch_contract_events", func(ctx context.Context) ([]domain.ContractEvent, error) {
		return c.inner.FetchContractEvents(ctx, query)
	})
}

func (c *ResilientClient) Health(ctx context.Context) (*HealthInfo, error) {
	return call(ctx, c, "health", func(ctx context.Context) (*HealthInfo, error) {
		return c.inner.Health(ctx)
	})
}

var _ DataClient = (*ResilientClient)(nil)
