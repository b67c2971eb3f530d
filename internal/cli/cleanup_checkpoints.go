package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/ledgerflow/internal/checkpoint"
	"github.com/vietddude/ledgerflow/internal/infra/storage/postgres"
)

var retentionDays int

var cleanupCheckpointsCmd = &cobra.Command{
	Use:   "cleanup-checkpoints",
	Short: "Delete checkpoints older than the retention window",
	Run:   runCleanupCheckpoints,
}

func init() {
	cleanupCheckpointsCmd.Flags().IntVar(&retentionDays, "retention-days", 30, "delete checkpoints older than this many days")
	rootCmd.AddCommand(cleanupCheckpointsCmd)
}

func runCleanupCheckpoints(cmd *cobra.Command, args []string) {
	if retentionDays <= 0 {
		fmt.Println("retention-days must be positive")
		os.Exit(1)
	}

	cfg := loadConfig()
	initLogger(cfg.Logging)

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	mgr := checkpoint.NewManager(postgres.NewCheckpointRepo(db), slog.Default())
	deleted, err := mgr.CleanupOlderThan(ctx, time.Duration(retentionDays)*24*time.Hour)
	if err != nil {
		slog.Error("Failed to clean up checkpoints", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Deleted %d checkpoints older than %d days\n", deleted, retentionDays)
}
