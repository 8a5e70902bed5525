package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counts by status",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusOrder = []domain.JobStatus{
	domain.JobStatusQueued,
	domain.JobStatusTranscribing,
	domain.JobStatusGenerating,
	domain.JobStatusCompleted,
	domain.JobStatusFailed,
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	counts, err := postgres.NewJobRepo(db).CountByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count jobs", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STATUS\tJOBS")
	total := 0
	for _, s := range statusOrder {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
		total += counts[s]
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", total)
	_ = w.Flush()
}
