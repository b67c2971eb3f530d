package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgersIngested tracks total ledgers persisted per task
	LedgersIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerflow_ledgers_ingested_total",
			Help: "Total number of ledgers ingested",
		},
		[]string{"task"},
	)

	// RemoteCallsTotal tracks remote fetches per operation
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerflow_remote_calls_total",
			Help: "Total number of remote data client calls",
		},
		[]string{"operation"},
	)

	// RemoteErrorsTotal tracks classified remote errors
	RemoteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerflow_remote_errors_total",
			Help: "Total number of remote call errors by kind",
		},
		[]string{"operation", "kind"},
	)

	// RemoteCallLatency tracks remote call latency
	RemoteCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerflow_remote_call_latency_seconds",
			Help:    "Remote call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// CircuitBreakerState exposes breaker position (0=closed, 1=half_open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledgerflow_circuit_breaker_state",
			Help: "Circuit breaker state per endpoint (0=closed, 1=half_open, 2=open)",
		},
		[]string{"endpoint"},
	)

	// CursorSequence tracks the last durably-saved cursor position
	CursorSequence = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledgerflow_cursor_sequence",
			Help: "Last ledger sequence saved to the cursor",
		},
		[]string{"task"},
	)

	// EnrichmentFailures tracks per-ledger enrichment failures
	EnrichmentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerflow_enrichment_failures_total",
			Help: "Total number of per-ledger enrichment failures",
		},
		[]string{"task", "stage"},
	)

	// DeadLetterDepth tracks the failed-enrichment queue size
	DeadLetterDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerflow_dead_letter_depth",
			Help: "Number of ledgers waiting for enrichment retry",
		},
	)

	// ReplayEventsApplied tracks events folded per session
	ReplayEventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerflow_replay_events_applied_total",
			Help: "Total events applied by replay sessions",
		},
		[]string{"mode"},
	)

	// ReplayEventsSkipped tracks duplicate/unknown events skipped
	ReplayEventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerflow_replay_events_skipped_total",
			Help: "Total events skipped by replay sessions",
		},
		[]string{"mode", "reason"},
	)

	// ReplaySessionsTotal tracks session terminal states
	ReplaySessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerflow_replay_sessions_total",
			Help: "Total replay sessions by terminal status",
		},
		[]string{"status"},
	)

	// DBConnectionPoolUsage tracks connection pool utilization
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerflow_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
