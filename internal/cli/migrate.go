package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/noteably/internal/infra/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [command] [args...]",
	Short: "Run database migrations (up, down, status, redo, version)",
	Args:  cobra.ArbitraryArgs,
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	command := "up"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

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

	if err := db.Migrate(ctx, command, args...); err != nil {
		slog.Error("Migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	slog.Info("Migration finished", "command", command)
}
