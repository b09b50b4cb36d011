package loop_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/loopwire/loopwire/internal/loop"
)

// TestEventLoopLeavesNoGoroutinesAfterStop asserts Run's own goroutine,
// and anything it spawns, are gone once Stop/Close return — the loop
// must not leak its poller or timer-wait goroutines across restarts.
func TestEventLoopLeavesNoGoroutinesAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	evLoop, err := loop.New()
	if err != nil {
		t.Fatalf("create event loop: %v", err)
	}

	done := make(chan struct{})
	go func() {
		evLoop.Run()
		close(done)
	}()

	if !evLoop.IsRunning() {
		// Run may not have flipped the flag yet; give it a moment.
		time.Sleep(10 * time.Millisecond)
	}

	evLoop.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not stop in time")
	}

	if err := evLoop.Close(); err != nil {
		t.Fatalf("close event loop: %v", err)
	}
}
