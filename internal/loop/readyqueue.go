package loop

import (
	"sync"

	"github.com/eapache/queue"
)

// readyQueue is the loop's FIFO of runnable handles. Same-thread
// CallSoon and cross-thread CallSoonThreadSafe both funnel through here;
// the mutex is what makes the cross-thread path safe (spec §3 "no
// mutation... except through call_soon_thread_safe").
type readyQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newReadyQueue() *readyQueue {
	return &readyQueue{q: queue.New()}
}

func (r *readyQueue) push(h *Handle) {
	r.mu.Lock()
	r.q.Add(h)
	r.mu.Unlock()
}

func (r *readyQueue) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q.Length()
}

// drainInto moves every item currently queued into dst, preserving FIFO
// order, and returns how many were moved. Items pushed after this call
// starts are not included — the "new handles run on the next tick"
// ordering guarantee (spec §5).
func (r *readyQueue) drainInto(dst *[]*Handle) int {
	r.mu.Lock()
	n := r.q.Length()
	for i := 0; i < n; i++ {
		*dst = append(*dst, r.q.Remove().(*Handle))
	}
	r.mu.Unlock()
	return n
}
