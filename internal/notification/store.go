// Package notification provides PostgreSQL-backed notification persistence
// and the dispatcher that decides whether a freshly written notification
// also gets a realtime push. The row is always the source of truth; the
// push is a best-effort overlay.
package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification is one persisted notification row.
type Notification struct {
	ID        string
	UserID    string
	Type      string // e.g. "booking_confirmed", "inquiry_response", "chat_mention"
	Title     string
	Message   string
	Data      json.RawMessage
	IsRead    bool
	CreatedAt time.Time
}

// Store manages notifications in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a notification store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a notification row. A zero ID or CreatedAt is filled in.
func (s *Store) Create(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO notifications (id, user_id, type, title, message, data, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`

	var data interface{}
	if len(n.Data) > 0 {
		data = []byte(n.Data)
	}

	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.Type, n.Title, n.Message, data, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("notification: insert: %w", err)
	}
	return nil
}

// Unread returns the user's unread notifications, newest first. Offline
// users rely on this on their next load instead of a push.
func (s *Store) Unread(ctx context.Context, userID string) ([]Notification, error) {
	const query = `
		SELECT id, user_id, type, title, message, COALESCE(data, 'null'::jsonb), is_read, created_at
		FROM notifications
		WHERE user_id = $1 AND NOT is_read
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("notification: unread: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var data []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notification: unread scan: %w", err)
		}
		if string(data) != "null" {
			n.Data = json.RawMessage(data)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification: unread rows: %w", err)
	}
	return out, nil
}

// MarkRead flags a notification as read for its owner.
func (s *Store) MarkRead(ctx context.Context, id, userID string) error {
	const query = `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`
	if _, err := s.db.ExecContext(ctx, query, id, userID); err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	return nil
}

// PruneRead deletes read notifications older than the retention window.
// Returns the number of rows deleted. Called by the daily retention job.
func (s *Store) PruneRead(ctx context.Context, retention time.Duration) (int64, error) {
	const query = `
		DELETE FROM notifications
		WHERE is_read AND created_at < NOW() - $1::interval`

	res, err := s.db.ExecContext(ctx, query, retention.String())
	if err != nil {
		return 0, fmt.Errorf("notification: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("notification: prune rows: %w", err)
	}
	return n, nil
}
