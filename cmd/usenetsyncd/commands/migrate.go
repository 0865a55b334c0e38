package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kraklabs/usenetsync/internal/logger"
	"github.com/kraklabs/usenetsync/pkg/config"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations for the index database.

This command applies pending schema migrations to the configured index
database (SQLite or PostgreSQL). It is required after upgrading usenetsyncd
when schema changes have been made.

Examples:
  # Run migrations with default config
  usenetsyncd migrate

  # Run migrations with a custom config
  usenetsyncd migrate --config /etc/usenetsyncd/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("running database migrations", logger.Driver(cfg.Database.Driver))

	engine, err := cfg.Database.OpenEngine()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = engine.Close() }()

	if err := storage.Migrate(engine, cfg.Database.Dialect()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (driver: %s)\n", cfg.Database.Driver)
	return nil
}
