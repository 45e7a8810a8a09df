package main

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/onlab/orderdesk/internal/config"
	"github.com/onlab/orderdesk/internal/database"
	"github.com/onlab/orderdesk/internal/logging"
	"github.com/onlab/orderdesk/internal/platform/migrations"
)

var downSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: withMigrator(func(m *migrate.Migrate, logger *logging.Logger) error {
		if err := migrations.Up(m); err != nil {
			return err
		}
		return logVersion(m, logger)
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: withMigrator(func(m *migrate.Migrate, logger *logging.Logger) error {
		if err := migrations.Down(m, downSteps); err != nil {
			return err
		}
		return logVersion(m, logger)
	}),
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: withMigrator(func(m *migrate.Migrate, _ *logging.Logger) error {
		version, dirty, err := migrations.Version(m)
		if err != nil {
			return err
		}
		fmt.Printf("version %d dirty=%t\n", version, dirty)
		return nil
	}),
}

func withMigrator(fn func(*migrate.Migrate, *logging.Logger) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.StoreBackend != config.BackendPostgres {
			return fmt.Errorf("migrations need STORE_BACKEND=%s", config.BackendPostgres)
		}

		db, err := database.Open(cmd.Context(), database.Config{DSN: cfg.DatabaseURL, MaxOpenConns: 2})
		if err != nil {
			return err
		}
		m, err := migrations.New(db.DB)
		if err != nil {
			db.Close()
			return err
		}
		defer m.Close()
		return fn(m, logger)
	}
}

func logVersion(m *migrate.Migrate, logger *logging.Logger) error {
	version, dirty, err := migrations.Version(m)
	if err != nil {
		return err
	}
	logger.WithField("version", version).WithField("dirty", dirty).Info("Schema migrated")
	return nil
}
