package loop

// Handle is a cancellable unit of deferred work. CallLater/CallAt return
// a TimerHandle embedding one; Cancel merely flips a flag, the loop silently skips
// cancelled handles when it pops them (spec §4.1).
type Handle struct {
	callback  func()
	cancelled bool
}

func newHandle(cb func()) *Handle {
	return &Handle{callback: cb}
}

// Cancel marks the handle as cancelled. Safe to call more than once.
func (h *Handle) Cancel() {
	h.cancelled = true
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool {
	return h.cancelled
}

func (h *Handle) run() {
	if h.cancelled {
		return
	}
	h.callback()
}

// TimerHandle additionally carries the absolute fire time used to order
// the loop's timer min-heap.
type TimerHandle struct {
	Handle
	when  float64
	index int // position in the heap, maintained by container/heap
}

// When returns the absolute LOOP_TIME() at which this timer fires.
func (t *TimerHandle) When() float64 { return t.when }

// WeakTarget is the shared cell a weak timer handle checks on fire; the
// owner clears it on teardown so the handle can self-cancel even without
// language-level weak references (spec §9 "Weak timer handles").
type WeakTarget struct {
	alive bool
}

// NewWeakTarget returns a live target cell.
func NewWeakTarget() *WeakTarget { return &WeakTarget{alive: true} }

// Clear marks the target gone; any timer referencing it self-cancels.
func (w *WeakTarget) Clear() { w.alive = false }

// Alive reports whether the referenced receiver is still around.
func (w *WeakTarget) Alive() bool { return w.alive }

// NewWeakTimerCallback wraps cb so that it never fires once target has
// been cleared, emulating a weak reference to a bound method's receiver.
func NewWeakTimerCallback(target *WeakTarget, cb func()) func() {
	return func() {
		if !target.Alive() {
			return
		}
		cb()
	}
}
