package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/ledgerflow/internal/checkpoint"
)

// Pruner deletes old checkpoints based on the retention policy.
type Pruner struct {
	retention   time.Duration
	checkpoints *checkpoint.Manager
	log         *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, checkpoints *checkpoint.Manager, log *slog.Logger) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		retention:   retention,
		checkpoints: checkpoints,
		log:         log,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check at 10% of the retention window, clamped to [1m, 1h].
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	if _, err := p.checkpoints.CleanupOlderThan(ctx, p.retention); err != nil {
		p.log.Error("failed to prune checkpoints", "error", err)
	}
}
