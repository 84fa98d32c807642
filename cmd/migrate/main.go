package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/example/fittrack/internal/config"
	"github.com/example/fittrack/migrations"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var steps int

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the fittrack PostgreSQL schema",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *migrations.Migrator) error {
				if err := m.Up(steps); err != nil {
					return fmt.Errorf("migration up failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
	up.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 = all)")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *migrations.Migrator) error {
				if err := m.Down(steps); err != nil {
					return fmt.Errorf("migration down failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back (0 = all)")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(m *migrations.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("failed to get version: %w", err)
				}
				if dirty {
					return fmt.Errorf("database is in a dirty state (version %d)", v)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "current migration version: %d\n", v)
				return nil
			})
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the migration version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 0 {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return withMigrator(func(m *migrations.Migrator) error {
				if err := m.Force(v); err != nil {
					return fmt.Errorf("force migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "forced database to version %d\n", v)
				return nil
			})
		},
	}

	root.AddCommand(up, down, version, force)
	return root
}

func withMigrator(fn func(*migrations.Migrator) error) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if cfg.DBAdapter != "postgres" {
		return fmt.Errorf("migrations only work with PostgreSQL, current adapter: %s", cfg.DBAdapter)
	}

	m, err := migrations.New(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}
