// Package chat provides PostgreSQL-backed persistence for chats and
// messages. It is the single source of truth for chat history: a message
// push is only ever an overlay on top of a successful insert here. Chat and
// participant rows are created by the marketplace's booking/inquiry services;
// the realtime core only reads membership.
package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Message is one persisted chat message. ReadBy only ever grows, and a user
// appears in it at most once no matter how many connections acknowledged.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Content   string
	Mentioned []string
	CreatedAt time.Time
	ReadBy    []string
}

// Store manages chats and messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a chat store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveMessage inserts a message row. A zero ID or CreatedAt is filled in.
// The insert fails if the chat does not exist; the caller surfaces that to
// the client and must not publish anything.
func (s *Store) SaveMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO messages (id, chat_id, sender_id, content, mentioned_users, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	mentioned := m.Mentioned
	if mentioned == nil {
		mentioned = []string{} // pq.Array(nil) writes NULL, the column is NOT NULL
	}
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.ChatID, m.SenderID, m.Content, pq.Array(mentioned), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("chat: insert message: %w", err)
	}
	return nil
}

// Participants returns the user IDs that belong to a chat.
func (s *Store) Participants(ctx context.Context, chatID string) ([]string, error) {
	const query = `SELECT user_id FROM chat_participants WHERE chat_id = $1 ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat: participants: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("chat: participants scan: %w", err)
		}
		users = append(users, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: participants rows: %w", err)
	}
	return users, nil
}

// IsParticipant reports whether the user belongs to the chat.
func (s *Store) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, query, chatID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("chat: is participant: %w", err)
	}
	return ok, nil
}

// MarkRead records that the user has read the message. The read set is a
// separate table keyed on (message_id, user_id), so concurrent acknowledges
// from several connections of the same user collapse into a single row.
// Returns true if the user was newly added to the read set.
func (s *Store) MarkRead(ctx context.Context, messageID, userID string) (bool, error) {
	const query = `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (message_id, user_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, messageID, userID)
	if err != nil {
		return false, fmt.Errorf("chat: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("chat: mark read rows: %w", err)
	}
	return n > 0, nil
}

// ReadBy returns the set of users that have acknowledged the message.
func (s *Store) ReadBy(ctx context.Context, messageID string) ([]string, error) {
	const query = `SELECT user_id FROM message_reads WHERE message_id = $1 ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("chat: read by: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("chat: read by scan: %w", err)
		}
		users = append(users, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: read by rows: %w", err)
	}
	return users, nil
}

// GetMessage loads one message with its read set.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	const query = `
		SELECT id, chat_id, sender_id, content, mentioned_users, created_at
		FROM messages WHERE id = $1`

	m := &Message{}
	err := s.db.QueryRowContext(ctx, query, messageID).Scan(
		&m.ID, &m.ChatID, &m.SenderID, &m.Content, pq.Array(&m.Mentioned), &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get message: %w", err)
	}

	m.ReadBy, err = s.ReadBy(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateChat inserts a chat with its participants. The marketplace's CRUD
// services own chat creation in production; the realtime core uses this for
// integration tests and local seeding.
func (s *Store) CreateChat(ctx context.Context, chatID string, participants []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chat: create chat: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, created_at) VALUES ($1, NOW())`, chatID); err != nil {
		return fmt.Errorf("chat: create chat insert: %w", err)
	}
	for _, uid := range participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, chatID, uid); err != nil {
			return fmt.Errorf("chat: create chat participant: %w", err)
		}
	}
	return tx.Commit()
}
