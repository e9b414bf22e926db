// Package typing stores ephemeral typing indicators in Redis:
//
//	Key:   typing:<chat_id>:<user_id>
//	Value: "1"
//	TTL:   a few seconds
//
// There is no clear operation — expiry is the correctness mechanism. Repeat
// typing events overwrite the key, sliding the window forward.
package typing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for typing indicators.
	KeyPrefix = "typing:"

	// DefaultTTL is how long a typing indicator survives without a repeat
	// typing event.
	DefaultTTL = 5 * time.Second
)

// Store manages typing indicators in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a typing indicator store. ttl <= 0 selects DefaultTTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func key(chatID, userID string) string {
	return KeyPrefix + chatID + ":" + userID
}

// SetTyping records that the user is typing in the chat, overwriting any
// existing indicator and resetting its TTL.
func (s *Store) SetTyping(ctx context.Context, chatID, userID string) error {
	if err := s.client.Set(ctx, key(chatID, userID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("typing: set: %w", err)
	}
	return nil
}

// IsTyping reports whether a non-expired indicator exists for the
// (chat, user) pair.
func (s *Store) IsTyping(ctx context.Context, chatID, userID string) (bool, error) {
	err := s.client.Get(ctx, key(chatID, userID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("typing: get: %w", err)
	}
	return true, nil
}

// Count returns the number of outstanding typing indicators across all
// chats. The safety-net maintenance job uses it to detect a store whose
// expiry has been misconfigured; nothing on the live path calls it.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("typing: count: %w", err)
	}
	return count, nil
}
