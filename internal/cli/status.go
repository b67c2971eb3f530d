package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vietddude/ledgerflow/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ingestion cursors, latest checkpoint, and recent replay sessions",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)

	_, _ = fmt.Fprintln(w, "TASK\tLAST LEDGER\tUPDATED")
	rows, err := db.QueryContext(ctx, "SELECT task_id, last_sequence, updated_at FROM cursors ORDER BY task_id")
	if err != nil {
		slog.Error("Failed to query cursors", "error", err)
		os.Exit(1)
	}
	for rows.Next() {
		var taskID string
		var seq uint64
		var updatedAt string
		if err := rows.Scan(&taskID, &seq, &updatedAt); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", taskID, seq, updatedAt)
	}
	_ = rows.Close()
	_ = w.Flush()

	cp := postgres.NewCheckpointRepo(db)
	latest, err := cp.Latest(ctx)
	if err != nil {
		slog.Error("Failed to query checkpoints", "error", err)
		os.Exit(1)
	}
	if latest != nil {
		fmt.Printf("\nLatest checkpoint: ledger %d (session %s, %s)\n",
			latest.Ledger, latest.SessionID, latest.CreatedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("\nNo checkpoints recorded")
	}

	sessions, err := postgres.NewReplayRepo(db).List(ctx, 10)
	if err != nil {
		slog.Error("Failed to query replay sessions", "error", err)
		os.Exit(1)
	}
	if len(sessions) > 0 {
		fmt.Println()
		sw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(sw, "SESSION\tMODE\tSTATUS\tAPPLIED\tLAST LEDGER")
		for _, s := range sessions {
			_, _ = fmt.Fprintf(sw, "%s\t%s\t%s\t%d\t%d\n",
				s.SessionID, s.Mode, s.Status, s.EventsApplied, s.LastLedger)
		}
		_ = sw.Flush()
	}
}
