// Package db opens the PostgreSQL handle and applies schema migrations at
// startup.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL and verifies the connection. Unlike the shared
// coordination store, the durable store is a hard dependency: callers treat
// a failure here as fatal at startup.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	handle, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	handle.SetMaxOpenConns(20)
	handle.SetMaxIdleConns(5)
	handle.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := handle.PingContext(pingCtx); err != nil {
		handle.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return handle, nil
}

// Migrate applies all pending migrations from sourceDir against the
// database at dsn. An already up-to-date schema is not an error.
func Migrate(dsn, sourceDir string) error {
	m, err := migrate.New("file://"+sourceDir, dsn)
	if err != nil {
		return fmt.Errorf("db: migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: migrate up: %w", err)
	}
	return nil
}
