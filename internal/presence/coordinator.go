// Package presence is the cross-process source of truth for who is online.
// Every live WebSocket connection in the cluster owns one expiring Redis key:
//
//	Key:   presence:<user_id>:<conn_id>
//	Value: <process_id>
//	TTL:   heartbeat window
//
// A user is online iff at least one such key exists. Keys are refreshed on
// every inbound frame and expire on their own, so a crashed process never
// leaves a user permanently online — staleness is bounded by the TTL. Because
// each connection has its own key, concurrent connects and disconnects for
// the same user commute; there is no shared counter to corrupt.
package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for presence leases.
	KeyPrefix = "presence:"

	// DefaultTTL is the heartbeat window. A connection that goes silent for
	// this long is considered gone.
	DefaultTTL = 60 * time.Second
)

// TransitionFunc is invoked when a user's aggregate presence flips: online
// on the first lease, offline when the last one disappears. Transitions are
// a latency optimization only — queries always re-scan the keys — so the
// callback is best-effort and must not block for long.
type TransitionFunc func(userID string, online bool)

// Coordinator manages presence leases in Redis for one process.
type Coordinator struct {
	client       *redis.Client
	processID    string
	ttl          time.Duration
	onTransition TransitionFunc
}

// NewCoordinator creates a Coordinator. processID identifies this process in
// lease values (useful when debugging the cluster). ttl <= 0 selects
// DefaultTTL.
func NewCoordinator(client *redis.Client, processID string, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{client: client, processID: processID, ttl: ttl}
}

// SetOnTransition registers the presence transition callback. Must be called
// before the coordinator starts receiving connections.
func (c *Coordinator) SetOnTransition(fn TransitionFunc) {
	c.onTransition = fn
}

// TTL returns the heartbeat window.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

func leaseKey(userID, connID string) string {
	return KeyPrefix + userID + ":" + connID
}

// MarkConnected creates (or refreshes) the lease for a connection. It is
// idempotent. When this is the user's first lease the online transition
// fires.
func (c *Coordinator) MarkConnected(ctx context.Context, userID, connID string) error {
	if err := c.client.Set(ctx, leaseKey(userID, connID), c.processID, c.ttl).Err(); err != nil {
		return fmt.Errorf("presence: mark connected: %w", err)
	}

	if c.onTransition != nil {
		n, err := c.leaseCount(ctx, userID)
		if err == nil && n == 1 {
			c.onTransition(userID, true)
		}
	}
	return nil
}

// MarkDisconnected deletes the lease for one connection. Other connections
// of the same user are unaffected. When the last lease is gone the offline
// transition fires.
func (c *Coordinator) MarkDisconnected(ctx context.Context, userID, connID string) error {
	if err := c.client.Del(ctx, leaseKey(userID, connID)).Err(); err != nil {
		return fmt.Errorf("presence: mark disconnected: %w", err)
	}

	if c.onTransition != nil {
		n, err := c.leaseCount(ctx, userID)
		if err == nil && n == 0 {
			c.onTransition(userID, false)
		}
	}
	return nil
}

// Heartbeat refreshes the lease TTL. It is called on any inbound frame, not
// only explicit heartbeats. If the lease already expired (a slow client that
// outlived its window) it is re-created rather than left missing until the
// next reconnect.
func (c *Coordinator) Heartbeat(ctx context.Context, userID, connID string) error {
	ok, err := c.client.Expire(ctx, leaseKey(userID, connID), c.ttl).Result()
	if err != nil {
		return fmt.Errorf("presence: heartbeat: %w", err)
	}
	if !ok {
		return c.MarkConnected(ctx, userID, connID)
	}
	return nil
}

// IsOnline reports whether the user has at least one live lease anywhere in
// the cluster. On Redis failure it returns false and the error; callers on
// the live path log and degrade rather than fail.
func (c *Coordinator) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.leaseCount(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("presence: is online: %w", err)
	}
	return n > 0, nil
}

// SnapshotOnline returns the set of currently online user IDs across the
// whole cluster by scanning all presence leases.
func (c *Coordinator) SnapshotOnline(ctx context.Context) (map[string]struct{}, error) {
	online := make(map[string]struct{})
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if userID, ok := parseLeaseKey(iter.Val()); ok {
			online[userID] = struct{}{}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("presence: snapshot: %w", err)
	}
	return online, nil
}

// ConnectionCount returns the total number of live leases in the cluster.
func (c *Coordinator) ConnectionCount(ctx context.Context) (int, error) {
	count := 0
	iter := c.client.Scan(ctx, 0, KeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("presence: connection count: %w", err)
	}
	return count, nil
}

// leaseCount counts the live leases for one user. The SCAN pattern also
// matches leases of any user whose ID extends this one through a colon, so
// each key is re-parsed and checked against the exact user.
func (c *Coordinator) leaseCount(ctx context.Context, userID string) (int, error) {
	count := 0
	iter := c.client.Scan(ctx, 0, KeyPrefix+userID+":*", 10).Iterator()
	for iter.Next(ctx) {
		if uid, ok := parseLeaseKey(iter.Val()); ok && uid == userID {
			count++
		}
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

// parseLeaseKey extracts the user ID from a presence key. The connection ID
// is a UUID and never contains a colon, so the last separator is the split
// point even if a user ID contains one.
func parseLeaseKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, ':')
	if i <= 0 {
		return "", false
	}
	return rest[:i], true
}
