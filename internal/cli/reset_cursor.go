package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/ledgerflow/internal/core/domain"
	"github.com/vietddude/ledgerflow/internal/infra/storage/postgres"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [task_id] [ledger_sequence]",
	Short: "Reset the ingestion cursor for a task to a given ledger sequence",
	Args:  cobra.ExactArgs(2),
	Run:   runResetCursor,
}

func init() {
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	taskID := args[0]
	sequence, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid ledger sequence: %v\n", err)
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

	// Resetting drops the pagination token so the next cycle re-fetches by
	// sequence position.
	if err := postgres.NewCursorRepo(db).Save(ctx, &domain.Cursor{
		TaskID:       taskID,
		LastSequence: sequence,
		UpdatedAt:    time.Now().UTC(),
	}); err != nil {
		slog.Error("Failed to reset cursor", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Cursor for task %s reset to ledger %d\n", taskID, sequence)
}
