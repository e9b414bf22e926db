package ws

import (
	"sync"
	"testing"
	"time"
)

func TestConnection_TouchAdvancesLastActivity(t *testing.T) {
	c := newTestConn(t, "c1", "u1")

	before := c.LastActivity()
	time.Sleep(5 * time.Millisecond)
	c.Touch()

	if !c.LastActivity().After(before) {
		t.Errorf("expected Touch to advance LastActivity, before=%v after=%v",
			before, c.LastActivity())
	}
}

// Read workers touch the connection while the heartbeat monitor reads it;
// both sides go through the atomic, so this passes under the race detector.
func TestConnection_ActivityConcurrentAccess(t *testing.T) {
	start := time.Now()
	c := newTestConn(t, "c1", "u1")

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c.Touch()
			}
		}
	}()

	deadline := time.Now().Add(20 * time.Millisecond)
	for time.Now().Before(deadline) {
		if c.LastActivity().Before(start) {
			t.Error("expected LastActivity at or after connection creation")
			break
		}
	}

	close(stop)
	wg.Wait()
}
