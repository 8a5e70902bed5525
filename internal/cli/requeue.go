package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/noteably/internal/infra/redis"
	"github.com/vietddude/noteably/internal/infra/storage"
	"github.com/vietddude/noteably/internal/infra/storage/postgres"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue [job_id]",
	Short: "Schedule a job for an immediate step",
	Args:  cobra.ExactArgs(1),
	Run:   runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) {
	jobID := args[0]
	cfg := loadConfig()
	if !cfg.UseRedis() {
		slog.Error("requeue needs redis.url; the in-memory queue lives inside the server")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	job, err := postgres.NewJobRepo(db).Get(ctx, jobID)
	if errors.Is(err, storage.ErrJobNotFound) {
		fmt.Printf("Job %s not found\n", jobID)
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to load job", "job_id", jobID, "error", err)
		os.Exit(1)
	}
	if job.IsTerminal() {
		fmt.Printf("Job %s is already %s\n", jobID, job.Status)
		os.Exit(1)
	}

	rc, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rc.Close()
	}()

	if err := redisclient.NewSchedule(rc).Schedule(ctx, jobID, time.Now()); err != nil {
		slog.Error("Failed to schedule job", "job_id", jobID, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Scheduled job %s (%s)\n", jobID, job.Status)
}
