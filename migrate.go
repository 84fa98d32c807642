package main

import (
	"fmt"
	"log/slog"

	"github.com/example/fittrack/migrations"
)

// ApplyMigrations brings the PostgreSQL schema at dsn up to date using the
// embedded migration files. A dirty database is refused.
func ApplyMigrations(dsn string, logger *slog.Logger) error {
	m, err := migrations.New(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("checking migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d): manual intervention required", version)
	}

	if err := m.Up(0); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("checking migration version: %w", err)
	}
	if newVersion != version {
		logger.Info("database migrated", "from", version, "to", newVersion)
	} else {
		logger.Info("database is up to date", "version", version)
	}
	return nil
}
