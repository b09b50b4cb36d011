package futures

import (
	"time"

	"github.com/loopwire/loopwire/protoerr"
)

// ReturnWhen selects Wait's early-exit condition.
type ReturnWhen int

const (
	FirstCompleted ReturnWhen = iota
	FirstException
	AllCompleted
)

// Wait blocks (the calling goroutine, i.e. a Task Step) until the
// condition named by returnWhen is met or timeout elapses, and returns
// the futures split into done/pending (spec §4.2). Zero timeout means no
// deadline. Empty input is an error.
func Wait(inputs []*Future, timeout time.Duration, returnWhen ReturnWhen) (done, pending []*Future, err error) {
	if len(inputs) == 0 {
		return nil, nil, protoerr.Payload("wait() requires at least one future", nil)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	doneSet := make(map[*Future]bool, len(inputs))
	sawException := false

	notify := make(chan *Future, len(inputs))
	for _, in := range inputs {
		in := in
		go func() {
			<-in.Done()
			notify <- in
		}()
	}

	for len(doneSet) < len(inputs) {
		select {
		case f := <-notify:
			doneSet[f] = true
			if _, e := f.Result(); e != nil {
				sawException = true
			}
			if returnWhen == FirstCompleted {
				return splitDone(inputs, doneSet)
			}
			if returnWhen == FirstException && sawException {
				return splitDone(inputs, doneSet)
			}
		case <-deadline:
			return splitDone(inputs, doneSet)
		}
	}
	return splitDone(inputs, doneSet)
}

func splitDone(inputs []*Future, doneSet map[*Future]bool) (done, pending []*Future, err error) {
	for _, f := range inputs {
		if doneSet[f] {
			done = append(done, f)
		} else {
			pending = append(pending, f)
		}
	}
	return done, pending, nil
}
