package futures

import (
	"context"
	"sync"

	"github.com/loopwire/loopwire/protoerr"
)

// Step is the body a Task runs. It receives a *Task so it can Await
// inner futures and observe cancellation at each suspension point,
// mirroring the step-function/coroutine relationship in spec §4.2.
type Step func(t *Task) (any, error)

// Task wraps a Future around a running Step, adding a current
// suspension point and cancellation flag (spec §3 Task data model).
// A Task is itself a Future and can be awaited by other tasks.
type Task struct {
	*Future

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	awaiting *Future
}

// NewTask starts step running in its own goroutine — the Go-native
// analogue of scheduling a coroutine's first step on the loop. The
// goroutine suspends (blocks) only inside Await, which is exactly the
// protocol design's suspension-point list (spec §5).
func NewTask(loop Scheduler, parent context.Context, step Step) *Task {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		Future: New(loop),
		ctx:    ctx,
		cancel: cancel,
	}
	go t.run(step)
	return t
}

func (t *Task) run(step Step) {
	v, err := step(t)
	t.cancel()
	if err != nil {
		if t.ctx.Err() != nil && protoerr.Is(err, protoerr.KindCancelled) {
			_ = t.Future.Cancel()
			return
		}
		_ = t.Future.SetException(err)
		return
	}
	_ = t.Future.SetResult(v)
}

// Context returns the Task's cancellation context, for Steps that need
// to pass it into further I/O calls.
func (t *Task) Context() context.Context { return t.ctx }

// Await suspends the calling Step until inner completes or the Task is
// cancelled. On cancellation it calls inner.Cancel() — which, for a
// Shield()-wrapped future, cancels only the wrapper and never reaches the
// future it wraps, implementing "cancel forwards to F unless F is
// shielded" (spec §4.2).
func (t *Task) Await(inner *Future) (any, error) {
	t.mu.Lock()
	t.awaiting = inner
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.awaiting = nil
		t.mu.Unlock()
	}()

	select {
	case <-inner.Done():
		return inner.Result()
	case <-t.ctx.Done():
		inner.Cancel()
		<-inner.Done()
		return nil, protoerr.Cancelled("task cancelled while awaiting")
	}
}

// Cancel requests cancellation: it cancels whatever inner future is
// currently being awaited (if any) and cancels the Task's context so the
// next Await call observes the request immediately, even if nothing is
// currently awaited (spec §4.2, §5 "best-effort").
func (t *Task) Cancel() bool {
	t.mu.Lock()
	inner := t.awaiting
	t.mu.Unlock()
	if inner != nil {
		inner.Cancel()
	}
	t.cancel()
	return true
}
