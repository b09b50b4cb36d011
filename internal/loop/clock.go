// Package loop implements the cooperative event loop: ready queue, timer
// heap, poller integration and cross-thread wakeup (spec §4.3), plus the
// time/handle primitives it is built on (spec §4.1) and the
// Transport/Protocol abstraction it drives (spec §4.4).
package loop

import "time"

var processStart = time.Now()

// Time is a monotonic clock reading in seconds, matching LOOP_TIME() in
// the protocol design. All scheduling decisions (timer heap ordering,
// keep-alive expiry, DNS cache TTL) compare values returned from here.
func Time() float64 {
	return time.Since(processStart).Seconds()
}
