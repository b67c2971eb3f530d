// Package control wires the application together and exposes the HTTP
// control surface for replay sessions, checkpoints, and health.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/ledgerflow/internal/checkpoint"
	"github.com/vietddude/ledgerflow/internal/core/config"
	"github.com/vietddude/ledgerflow/internal/core/worker"
	"github.com/vietddude/ledgerflow/internal/infra/redis"
	"github.com/vietddude/ledgerflow/internal/infra/storage"
	"github.com/vietddude/ledgerflow/internal/infra/storage/memory"
	"github.com/vietddude/ledgerflow/internal/infra/storage/postgres"
	"github.com/vietddude/ledgerflow/internal/ingest"
	"github.com/vietddude/ledgerflow/internal/metrics"
	"github.com/vietddude/ledgerflow/internal/remote"
	"github.com/vietddude/ledgerflow/internal/remote/horizonapi"
	"github.com/vietddude/ledgerflow/internal/replay"
	"github.com/vietddude/ledgerflow/internal/resilience"
	"github.com/vietddude/ledgerflow/internal/state"
)

// repos bundles the storage interfaces so postgres and memory modes wire
// identically.
type repos struct {
	ledgers      storage.LedgerRepository
	payments     storage.PaymentRepository
	transactions storage.TransactionRepository
	events       storage.EventRepository
	cursors      storage.CursorRepository
	checkpoints  storage.CheckpointRepository
	sessions     storage.ReplaySessionRepository
	states       storage.StateSnapshotRepository
}

// App is the main application struct that manages the service lifecycle.
type App struct {
	cfg *config.AppConfig
	log *slog.Logger

	db          *postgres.DB
	redisClient *redis.Client

	breaker     *resilience.CircuitBreaker
	client      remote.DataClient
	runner      *ingest.Runner
	engine      *replay.Engine
	checkpoints *checkpoint.Manager
	pruner      *worker.Pruner
	server      *Server
}

// NewApp creates the application with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	app := &App{cfg: cfg, log: log}

	// 1. Storage
	r, err := app.initStorage(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Dead-letter queue (optional)
	var dlq ingest.DeadLetterQueue
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		app.redisClient, err = redis.NewClient(cfg.Redis.Config)
		if err != nil {
			log.Warn("failed to connect to redis, enrichment retries disabled", "error", err)
		} else {
			dlq = redis.NewFailedLedgerQueue(app.redisClient, cfg.Ingestion.TaskID)
			log.Info("redis dead-letter queue enabled", "task", cfg.Ingestion.TaskID)
		}
	}

	// 3. Remote client behind breaker and retry
	api := horizonapi.New(cfg.Remote.Endpoint, cfg.Remote.Timeout)
	app.breaker = resilience.NewCircuitBreaker("remote", resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		SuccessThreshold: cfg.Resilience.SuccessThreshold,
		TimeoutDuration:  cfg.Resilience.BreakerTimeout,
	})
	app.client = remote.NewResilientClient(api, app.breaker, resilience.RetryPolicy{
		MaxAttempts: cfg.Resilience.MaxAttempts,
		BaseDelay:   cfg.Resilience.BaseDelay,
		MaxDelay:    cfg.Resilience.MaxDelay,
	})

	// 4. Ingestion
	if cfg.Ingestion.Enabled {
		svc := ingest.NewService(ingest.Config{
			TaskID:       cfg.Ingestion.TaskID,
			Network:      cfg.Ingestion.Network,
			ContractIDs:  cfg.Ingestion.ContractIDs,
			BatchSize:    cfg.Ingestion.BatchSize,
			Client:       app.client,
			Ledgers:      r.ledgers,
			Payments:     r.payments,
			Transactions: r.transactions,
			Events:       r.events,
			Cursors:      r.cursors,
			DLQ:          dlq,
			Log:          log,
		})
		app.runner = ingest.NewRunner(svc, ingest.RunnerConfig{
			ScanInterval:  cfg.Ingestion.ScanInterval,
			IdleInterval:  cfg.Ingestion.IdleInterval,
			RetryInterval: cfg.Ingestion.RetryInterval,
			MaxRetries:    cfg.Ingestion.MaxRetries,
		})
	}

	// 5. Replay
	app.checkpoints = checkpoint.NewManager(r.checkpoints, log)
	app.engine = replay.NewEngine(replay.EngineConfig{
		Events:      r.events,
		Ledgers:     r.ledgers,
		Sessions:    r.sessions,
		Checkpoints: app.checkpoints,
		States:      state.NewStore(r.states),
		Log:         log,
	})

	app.pruner = worker.NewPruner(cfg.Replay.CheckpointRetention, app.checkpoints, log)

	// 6. Control server
	app.server = NewServer(ServerConfig{
		Port:             cfg.Server.Port,
		Engine:           app.engine,
		Checkpoints:      app.checkpoints,
		DefaultBatchSize: cfg.Replay.DefaultBatchSize,
		Health:           app.health,
		BaseCtx:          ctx,
		Log:              log,
	})

	return app, nil
}

func (a *App) initStorage(ctx context.Context) (*repos, error) {
	switch a.cfg.Storage.Mode {
	case "postgres", "":
		db, err := postgres.NewDB(ctx, a.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		a.db = db
		a.log.Info("using PostgreSQL storage")
		return &repos{
			ledgers:      postgres.NewLedgerRepo(db),
			payments:     postgres.NewPaymentRepo(db),
			transactions: postgres.NewTxRepo(db),
			events:       postgres.NewEventRepo(db),
			cursors:      postgres.NewCursorRepo(db),
			checkpoints:  postgres.NewCheckpointRepo(db),
			sessions:     postgres.NewReplayRepo(db),
			states:       postgres.NewStateRepo(db),
		}, nil
	case "memory":
		store := memory.NewMemoryStorage()
		a.log.Info("using memory storage")
		return &repos{
			ledgers:      memory.NewLedgerRepo(store),
			payments:     memory.NewPaymentRepo(store),
			transactions: memory.NewTxRepo(store),
			events:       memory.NewEventRepo(store),
			cursors:      memory.NewCursorRepo(store),
			checkpoints:  memory.NewCheckpointRepo(store),
			sessions:     memory.NewSessionRepo(store),
			states:       memory.NewStateRepo(store),
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage mode %q", a.cfg.Storage.Mode)
	}
}

// Start launches the control server, ingestion runner, and background
// metric updaters. Non-blocking.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("control server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	if a.runner != nil {
		a.log.Info("starting ingestion runner", "task", a.cfg.Ingestion.TaskID)
		go func() {
			if err := a.runner.Start(ctx); err != nil {
				a.log.Error("ingestion runner failed", "error", err)
			}
		}()
	}

	go a.pruner.Start(ctx)
	go a.runBreakerMetrics(ctx)
	return nil
}

// Handler exposes the control server's HTTP handler; used by tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Stop shuts everything down in reverse order.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping application")

	if a.runner != nil {
		a.runner.Stop()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", "error", err)
		}
	}
	return a.server.Stop(ctx)
}

// health aggregates component availability for the /health endpoint.
func (a *App) health(ctx context.Context) map[string]string {
	report := map[string]string{"status": "ok"}

	if a.db != nil {
		if err := a.db.Health(ctx); err != nil {
			report["database"] = err.Error()
			report["status"] = "degraded"
		} else {
			report["database"] = "ok"
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Health(ctx); err != nil {
			report["redis"] = err.Error()
			report["status"] = "degraded"
		} else {
			report["redis"] = "ok"
		}
	}
	report["circuit_breaker"] = string(a.breaker.State())
	return report
}

func (a *App) runBreakerMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var v float64
			switch a.breaker.State() {
			case resilience.StateHalfOpen:
				v = 1
			case resilience.StateOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(a.breaker.Name()).Set(v)
		}
	}
}
