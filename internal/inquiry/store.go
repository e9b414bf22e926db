// Package inquiry provides the small slice of inquiry persistence the
// realtime core owns: expiring stale inquiries. Inquiry CRUD lives in the
// marketplace's data services.
package inquiry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Inquiry status values, matching the CHECK constraint on the inquiries
// table.
const (
	StatusPending   = "pending"
	StatusResponded = "responded"
	StatusExpired   = "expired"
)

// Store manages inquiry state transitions in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates an inquiry store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ExpireStale transitions pending inquiries older than maxAge to expired.
// Returns the number of rows transitioned. Called by the daily expiration
// job.
func (s *Store) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	const query = `
		UPDATE inquiries
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND created_at < NOW() - $3::interval`

	res, err := s.db.ExecContext(ctx, query, StatusExpired, StatusPending, maxAge.String())
	if err != nil {
		return 0, fmt.Errorf("inquiry: expire stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("inquiry: expire stale rows: %w", err)
	}
	return n, nil
}

// PendingCount returns the number of pending inquiries, logged by the
// expiration job for observability.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inquiries WHERE status = $1`, StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("inquiry: pending count: %w", err)
	}
	return n, nil
}
