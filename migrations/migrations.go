// Package migrations embeds the PostgreSQL schema and wraps golang-migrate
// around it, so the server and the migrate CLI apply the same files without
// depending on the working directory.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed *.sql
var files embed.FS

// Migrator owns a migrate instance and the connection behind it.
type Migrator struct {
	m *migrate.Migrate
}

// New connects to dsn and prepares a migrator over the embedded files.
func New(dsn string) (*Migrator, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	src, err := iofs.New(files, ".")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Version returns the applied version. A fresh database reports 0.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Up applies steps pending migrations, or all of them when steps is 0.
func (m *Migrator) Up(steps int) error {
	if steps > 0 {
		return ignoreNoChange(m.m.Steps(steps))
	}
	return ignoreNoChange(m.m.Up())
}

// Down rolls back steps migrations, or all of them when steps is 0.
func (m *Migrator) Down(steps int) error {
	if steps > 0 {
		return ignoreNoChange(m.m.Steps(-steps))
	}
	return ignoreNoChange(m.m.Down())
}

// Force marks version as applied and clears the dirty flag.
func (m *Migrator) Force(version int) error {
	return m.m.Force(version)
}

// Close releases the migrate source and the database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
