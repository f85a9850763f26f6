package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pressreel-worker/internal/config"
	"pressreel-worker/internal/logging"
	"pressreel-worker/internal/repository/postgresql"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the jobs database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		_, undo := logging.Init(cfg.Service.LogLevel)
		defer undo()

		if cfg.Database.JobStore != "postgres" {
			zap.S().Infow("job store is not postgres, nothing to migrate", "job_store", cfg.Database.JobStore)
			return nil
		}

		zap.S().Infow("migrating", "dsn", config.RedactDSN(cfg.Database.DSN))
		if err := postgresql.Migrate(context.Background(), cfg.Database.DSN); err != nil {
			return err
		}
		zap.S().Info("Db migrated")
		return nil
	},
}
