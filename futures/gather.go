package futures

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loopwire/loopwire/protoerr"
)

// Outcome is one slot of a Gather(..., returnExceptions=true) result —
// either a child's value or its error, never both.
type Outcome struct {
	Value any
	Err   error
}

// Gather returns a Future that completes when every input Future
// completes. With returnExceptions, every slot in the result ([]Outcome)
// holds either a result or an exception. Otherwise the first
// non-cancellation exception becomes the Gather future's own exception
// and every other still-pending input is cancelled (spec §4.2).
//
// The fan-in runs on an errgroup.Group; the goroutine that observes a
// failed input cancels every other input itself.
func Gather(loop Scheduler, returnExceptions bool, inputs ...*Future) *Future {
	out := New(loop)
	if len(inputs) == 0 {
		_ = out.SetResult([]Outcome{})
		return out
	}

	go func() {
		outcomes := make([]Outcome, len(inputs))

		if returnExceptions {
			var wg sync.WaitGroup
			wg.Add(len(inputs))
			for i, in := range inputs {
				i, in := i, in
				go func() {
					defer wg.Done()
					<-in.Done()
					v, err := in.Result()
					outcomes[i] = Outcome{Value: v, Err: err}
				}()
			}
			wg.Wait()
			_ = out.SetResult(outcomes)
			return
		}

		var g errgroup.Group
		var firstErrOnce sync.Once
		var firstErr error
		for i, in := range inputs {
			i, in := i, in
			g.Go(func() error {
				<-in.Done()
				v, err := in.Result()
				if err != nil {
					if !protoerr.Is(err, protoerr.KindCancelled) {
						firstErrOnce.Do(func() { firstErr = err })
					}
					for _, other := range inputs {
						if other != in {
							other.Cancel()
						}
					}
					return err
				}
				outcomes[i] = Outcome{Value: v}
				return nil
			})
		}
		_ = g.Wait()
		if firstErr != nil {
			_ = out.SetException(firstErr)
			return
		}
		values := make([]any, len(outcomes))
		for i, o := range outcomes {
			values[i] = o.Value
		}
		_ = out.SetResult(values)
	}()

	return out
}
