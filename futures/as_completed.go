package futures

import (
	"time"

	"github.com/loopwire/loopwire/protoerr"
)

// AsCompleted returns a channel yielding each distinct input Future in
// the order it completes. A Future appearing more than once in inputs is
// only ever emitted once — duplicates count as one, matching the
// scarletio original's identity-deduplication rule (spec §4.2,
// SPEC_FULL.md §4). If timeout elapses before a given future completes,
// that slot instead yields a synthetic Future already set to a Timeout
// error, so the channel still produces exactly len(unique) items.
func AsCompleted(loop Scheduler, inputs []*Future, timeout time.Duration) <-chan *Future {
	seen := make(map[*Future]bool, len(inputs))
	unique := make([]*Future, 0, len(inputs))
	for _, f := range inputs {
		if seen[f] {
			continue
		}
		seen[f] = true
		unique = append(unique, f)
	}

	out := make(chan *Future, len(unique))
	if len(unique) == 0 {
		close(out)
		return out
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		deadline = timer.C
	}

	notify := make(chan *Future, len(unique))
	for _, f := range unique {
		f := f
		go func() {
			<-f.Done()
			notify <- f
		}()
	}

	go func() {
		defer close(out)
		remaining := len(unique)
		for remaining > 0 {
			select {
			case f := <-notify:
				out <- f
				remaining--
			case <-deadline:
				for ; remaining > 0; remaining-- {
					timeoutFuture := New(loop)
					_ = timeoutFuture.SetException(protoerr.Timeout("as_completed timed out"))
					out <- timeoutFuture
				}
			}
		}
	}()

	return out
}
