package presence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestClient connects to a local Redis instance and flushes all test
// presence keys before returning. Tests that call this helper require a
// running Redis on localhost:6379.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	flush := func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	flush()
	t.Cleanup(func() {
		flush()
		client.Close()
	})
	return client
}

func TestIsOnline_NoLease(t *testing.T) {
	c := NewCoordinator(newTestClient(t), "proc-a", 0)
	ctx := context.Background()

	online, err := c.IsOnline(ctx, "test_nobody")
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if online {
		t.Error("expected offline with no lease")
	}
}

func TestMarkConnectedAndDisconnected(t *testing.T) {
	c := NewCoordinator(newTestClient(t), "proc-a", 0)
	ctx := context.Background()

	if err := c.MarkConnected(ctx, "test_u1", "conn-1"); err != nil {
		t.Fatalf("MarkConnected() error: %v", err)
	}

	online, err := c.IsOnline(ctx, "test_u1")
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if !online {
		t.Fatal("expected online after MarkConnected")
	}

	if err := c.MarkDisconnected(ctx, "test_u1", "conn-1"); err != nil {
		t.Fatalf("MarkDisconnected() error: %v", err)
	}

	online, err = c.IsOnline(ctx, "test_u1")
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if online {
		t.Error("expected offline after last lease released")
	}
}

// A user with several connections stays online until the last one is gone.
func TestMultipleConnections_LastLeaseWins(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// Two coordinators simulate two processes of the cluster sharing the
	// same user.
	a := NewCoordinator(client, "proc-a", 0)
	b := NewCoordinator(client, "proc-b", 0)

	if err := a.MarkConnected(ctx, "test_u2", "conn-a"); err != nil {
		t.Fatalf("MarkConnected() error: %v", err)
	}
	if err := b.MarkConnected(ctx, "test_u2", "conn-b"); err != nil {
		t.Fatalf("MarkConnected() error: %v", err)
	}

	if err := a.MarkDisconnected(ctx, "test_u2", "conn-a"); err != nil {
		t.Fatalf("MarkDisconnected() error: %v", err)
	}
	online, err := b.IsOnline(ctx, "test_u2")
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if !online {
		t.Fatal("expected online while one lease remains")
	}

	if err := b.MarkDisconnected(ctx, "test_u2", "conn-b"); err != nil {
		t.Fatalf("MarkDisconnected() error: %v", err)
	}
	online, err = a.IsOnline(ctx, "test_u2")
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if online {
		t.Error("expected offline after both leases released")
	}
}

// A lease that is never refreshed expires on its own, so a crashed process
// cannot leave its users online forever.
func TestLeaseExpiry(t *testing.T) {
	c := NewCoordinator(newTestClient(t), "proc-a", time.Second)
	ctx := context.Background()

	if err := c.MarkConnected(ctx, "test_u3", "conn-1"); err != nil {
		t.Fatalf("MarkConnected() error: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	online, err := c.IsOnline(ctx, "test_u3")
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if online {
		t.Error("expected lease to expire without heartbeats")
	}
}

func TestHeartbeat_RefreshesLease(t *testing.T) {
	c := NewCoordinator(newTestClient(t), "proc-a", time.Second)
	ctx := context.Background()

	if err := c.MarkConnected(ctx, "test_u4", "conn-1"); err != nil {
		t.Fatalf("MarkConnected() error: %v", err)
	}

	// Heartbeat past the original window; the lease must survive.
	for i := 0; i < 3; i++ {
		time.Sleep(600 * time.Millisecond)
		if err := c.Heartbeat(ctx, "test_u4", "conn-1"); err != nil {
			t.Fatalf("Heartbeat() error: %v", err)
		}
	}

	online, err := c.IsOnline(ctx, "test_u4")
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if !online {
		t.Error("expected online while heartbeats continue")
	}
}

// Heartbeat after expiry re-creates the lease instead of failing silently.
func TestHeartbeat_RecreatesExpiredLease(t *testing.T) {
	c := NewCoordinator(newTestClient(t), "proc-a", time.Second)
	ctx := context.Background()

	if err := c.MarkConnected(ctx, "test_u5", "conn-1"); err != nil {
		t.Fatalf("MarkConnected() error: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)

	if err := c.Heartbeat(ctx, "test_u5", "conn-1"); err != nil {
		t.Fatalf("Heartbeat() error: %v", err)
	}

	online, err := c.IsOnline(ctx, "test_u5")
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if !online {
		t.Error("expected lease re-created by heartbeat after expiry")
	}
}

func TestTransitions_FireOnFirstAndLastLease(t *testing.T) {
	c := NewCoordinator(newTestClient(t), "proc-a", 0)
	ctx := context.Background()

	type transition struct {
		userID string
		online bool
	}
	var got []transition
	c.SetOnTransition(func(userID string, online bool) {
		got = append(got, transition{userID, online})
	})

	if err := c.MarkConnected(ctx, "test_u6", "conn-1"); err != nil {
		t.Fatalf("MarkConnected() error: %v", err)
	}
	// Second lease for the same user: no transition.
	if err := c.MarkConnected(ctx, "test_u6", "conn-2"); err != nil {
		t.Fatalf("MarkConnected() error: %v", err)
	}
	if err := c.MarkDisconnected(ctx, "test_u6", "conn-1"); err != nil {
		t.Fatalf("MarkDisconnected() error: %v", err)
	}
	if err := c.MarkDisconnected(ctx, "test_u6", "conn-2"); err != nil {
		t.Fatalf("MarkDisconnected() error: %v", err)
	}

	want := []transition{
		{"test_u6", true},
		{"test_u6", false},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d]: expected %v, got %v", i, want[i], got[i])
		}
	}
}

// A user ID that extends another through a colon matches the other's SCAN
// pattern; its leases must not count toward the shorter ID's presence.
func TestIsOnline_ColonUserIDsDoNotCollide(t *testing.T) {
	c := NewCoordinator(newTestClient(t), "proc-a", 0)
	ctx := context.Background()

	if err := c.MarkConnected(ctx, "test_u7:guide", "conn-1"); err != nil {
		t.Fatalf("MarkConnected() error: %v", err)
	}

	online, err := c.IsOnline(ctx, "test_u7")
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if online {
		t.Error("expected test_u7 offline; only test_u7:guide has a lease")
	}

	online, err = c.IsOnline(ctx, "test_u7:guide")
	if err != nil {
		t.Fatalf("IsOnline() error: %v", err)
	}
	if !online {
		t.Error("expected test_u7:guide online")
	}

	// The shorter user's first lease still fires the online transition even
	// though the longer user's key matches its scan pattern.
	var transitions []bool
	c.SetOnTransition(func(userID string, online bool) {
		if userID == "test_u7" {
			transitions = append(transitions, online)
		}
	})
	if err := c.MarkConnected(ctx, "test_u7", "conn-2"); err != nil {
		t.Fatalf("MarkConnected() error: %v", err)
	}
	if len(transitions) != 1 || !transitions[0] {
		t.Errorf("expected one online transition for test_u7, got %v", transitions)
	}
}

func TestSnapshotOnline(t *testing.T) {
	c := NewCoordinator(newTestClient(t), "proc-a", 0)
	ctx := context.Background()

	for _, uid := range []string{"test_s1", "test_s2"} {
		if err := c.MarkConnected(ctx, uid, "conn-1"); err != nil {
			t.Fatalf("MarkConnected() error: %v", err)
		}
	}

	snapshot, err := c.SnapshotOnline(ctx)
	if err != nil {
		t.Fatalf("SnapshotOnline() error: %v", err)
	}
	for _, uid := range []string{"test_s1", "test_s2"} {
		if _, ok := snapshot[uid]; !ok {
			t.Errorf("expected %q in snapshot %v", uid, snapshot)
		}
	}
}

func TestParseLeaseKey(t *testing.T) {
	tests := []struct {
		key    string
		userID string
		ok     bool
	}{
		{"presence:u1:conn-1", "u1", true},
		{"presence:tenant:42:conn-1", "tenant:42", true},
		{"presence:noconn", "", false},
		{"other:u1:conn-1", "", false},
	}
	for _, tt := range tests {
		userID, ok := parseLeaseKey(tt.key)
		if ok != tt.ok || userID != tt.userID {
			t.Errorf("parseLeaseKey(%q) = (%q, %v), want (%q, %v)",
				tt.key, userID, ok, tt.userID, tt.ok)
		}
	}
}
