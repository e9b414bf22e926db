package typing

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and
// flushes all test typing keys. Requires a running Redis on localhost:6379.
func newTestStore(t *testing.T, ttl time.Duration) *Store {
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
	return NewStore(client, ttl)
}

func TestIsTyping_NoIndicator(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	typing, err := store.IsTyping(ctx, "test_chat", "u1")
	if err != nil {
		t.Fatalf("IsTyping() error: %v", err)
	}
	if typing {
		t.Error("expected not typing without an indicator")
	}
}

func TestSetTypingAndCheck(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	if err := store.SetTyping(ctx, "test_chat", "u1"); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}

	typing, err := store.IsTyping(ctx, "test_chat", "u1")
	if err != nil {
		t.Fatalf("IsTyping() error: %v", err)
	}
	if !typing {
		t.Fatal("expected typing after SetTyping")
	}

	// A different user in the same chat is unaffected.
	typing, err = store.IsTyping(ctx, "test_chat", "u2")
	if err != nil {
		t.Fatalf("IsTyping() error: %v", err)
	}
	if typing {
		t.Error("expected u2 not typing")
	}
}

// Expiry is the only clear mechanism: the indicator disappears on its own.
func TestTypingIndicatorExpires(t *testing.T) {
	store := newTestStore(t, time.Second)
	ctx := context.Background()

	if err := store.SetTyping(ctx, "test_chat_exp", "u1"); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	typing, err := store.IsTyping(ctx, "test_chat_exp", "u1")
	if err != nil {
		t.Fatalf("IsTyping() error: %v", err)
	}
	if typing {
		t.Error("expected indicator to have expired")
	}
}

// Repeat typing events slide the window forward.
func TestSetTyping_SlidesWindow(t *testing.T) {
	store := newTestStore(t, time.Second)
	ctx := context.Background()

	if err := store.SetTyping(ctx, "test_chat_slide", "u1"); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}
	time.Sleep(600 * time.Millisecond)
	if err := store.SetTyping(ctx, "test_chat_slide", "u1"); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}
	time.Sleep(600 * time.Millisecond)

	// 1.2s after the first event but only 0.6s after the refresh.
	typing, err := store.IsTyping(ctx, "test_chat_slide", "u1")
	if err != nil {
		t.Fatalf("IsTyping() error: %v", err)
	}
	if !typing {
		t.Error("expected refresh to extend the indicator")
	}
}

func TestCount(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	before, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}

	if err := store.SetTyping(ctx, "test_chat_count", "u1"); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}
	if err := store.SetTyping(ctx, "test_chat_count", "u2"); err != nil {
		t.Fatalf("SetTyping() error: %v", err)
	}

	after, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if after < before+2 {
		t.Errorf("expected count to grow by at least 2, before=%d after=%d", before, after)
	}
}
