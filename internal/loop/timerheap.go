package loop

import "container/heap"

// timerHeap is a min-heap of *TimerHandle ordered by When(), giving the
// loop O(log n) insertion and O(1) access to the next firing timer.
type timerHeap []*TimerHandle

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when < h[j].when }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*TimerHandle)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// peek returns the earliest timer without removing it.
func (h timerHeap) peek() *TimerHandle {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

var _ = heap.Interface(&timerHeap{})
