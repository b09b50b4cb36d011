// Package futures implements the completion-based promise and task
// primitives described in the protocol design's Future/Task component:
// a state machine owned by exactly one event loop, chainable
// cancellation, shielding, gather and wait (spec §4.2).
package futures

import (
	"sync"

	"github.com/loopwire/loopwire/protoerr"
)

// State is one of the four terminal/non-terminal Future states.
type State int32

const (
	Pending State = iota
	Resulted
	Excepted
	Cancelled
)

func (s State) String() string {
	switch s {
	case Resulted:
		return "resulted"
	case Excepted:
		return "excepted"
	case Cancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Scheduler is the minimal surface a Future needs from its owning event
// loop: schedule a callback on the loop thread, and a thread-safe
// variant for cross-thread completion (spec §3, §5 "event-loop-pinned
// futures").
type Scheduler interface {
	CallSoon(fn func())
	CallSoonThreadSafe(fn func())
}

// DoneCallback is invoked once a Future becomes terminal.
type DoneCallback func(f *Future)

// Future is a single-assignment, loop-pinned completion value. It is
// shared between its creator, its owning loop, and its awaiters, but its
// terminal transition is single-writer (spec §3 Ownership).
type Future struct {
	mu        sync.Mutex
	state     State
	result    any
	err       error
	done      chan struct{}
	callbacks []DoneCallback
	loop      Scheduler
	isShield  bool
}

// New creates a Future pinned to loop. loop may be nil for futures used
// purely synchronously in tests.
func New(loop Scheduler) *Future {
	return &Future{
		done: make(chan struct{}),
		loop: loop,
	}
}

// Loop returns the owning scheduler.
func (f *Future) Loop() Scheduler { return f.loop }

// State returns the current state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done returns a channel closed when the Future becomes terminal —
// the suspension point a Task selects on while awaiting.
func (f *Future) Done() <-chan struct{} { return f.done }

// SetResult transitions PENDING → RESULT. Returns an error if the
// Future was not PENDING; per spec this is only valid from the owning
// loop's thread (callers on another goroutine must route through
// CallSoonThreadSafe themselves — Future does not guess the caller's
// thread).
func (f *Future) SetResult(v any) error {
	return f.complete(Resulted, v, nil)
}

// SetException transitions PENDING → EXCEPTION.
func (f *Future) SetException(err error) error {
	return f.complete(Excepted, nil, err)
}

func (f *Future) complete(state State, v any, err error) error {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return protoerr.Payload("future already done", nil)
	}
	f.state = state
	f.result = v
	f.err = err
	close(f.done)
	cbs := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()
	f.scheduleCallbacks(cbs)
	return nil
}

func (f *Future) scheduleCallbacks(cbs []DoneCallback) {
	// Completion can legitimately happen from any goroutine (a Task's own
	// goroutine, a Transport I/O goroutine, a DNS worker, …), so callbacks
	// always go through the thread-safe path rather than assuming the
	// caller is the loop's own goroutine.
	for _, cb := range cbs {
		cb := cb
		if f.loop != nil {
			f.loop.CallSoonThreadSafe(func() { cb(f) })
		} else {
			go cb(f)
		}
	}
}

// Cancel transitions PENDING → CANCELLED with a cancellation error.
// Returns whether it was effective (false if already terminal).
func (f *Future) Cancel() bool {
	err := protoerr.Cancelled("future cancelled")
	return f.complete(Cancelled, nil, err) == nil
}

// AddDoneCallback registers cb to run once the Future is terminal. If
// already done, cb is scheduled for the next loop tick immediately.
func (f *Future) AddDoneCallback(cb DoneCallback) {
	f.mu.Lock()
	if f.state == Pending {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.scheduleCallbacks([]DoneCallback{cb})
}

// RemoveDoneCallback removes every pending callback for which match
// returns true and reports how many were removed. Go func values cannot
// be compared, so this counterpart of the spec's "remove_done_callback"
// takes a predicate instead of the callback itself.
func (f *Future) RemoveDoneCallback(match func(DoneCallback) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.callbacks[:0]
	removed := 0
	for _, cb := range f.callbacks {
		if match(cb) {
			removed++
			continue
		}
		kept = append(kept, cb)
	}
	f.callbacks = kept
	return removed
}

// Result returns the completed value and error without blocking. Callers
// that need to suspend use Await or Wait.
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Await blocks the calling goroutine until the future is terminal and
// returns its result, for synchronous callers outside the owning loop's
// own goroutine (e.g. a request issued from user code rather than from
// inside a Task step).
func (f *Future) Await() (any, error) {
	<-f.Done()
	return f.Result()
}

// IsShield reports whether this Future is a Shield() wrapper — cancelling
// it never reaches the future it wraps.
func (f *Future) IsShield() bool { return f.isShield }
