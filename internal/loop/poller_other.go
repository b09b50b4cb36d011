//go:build !linux

package loop

import (
	"os"
	"time"
)

// portablePoller is the non-Linux fallback: an os.Pipe stands in for the
// eventfd wakeup. Real fd readiness rides Go's runtime netpoller inside
// Transport's blocking Read/Write, never through here (spec §9 "abstract:
// an MPSC queue plus a blocking-wait signal (pipe, eventfd, channel)").
type portablePoller struct {
	rPipe *os.File
	wPipe *os.File
}

func newPoller() (poller, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &portablePoller{rPipe: r, wPipe: w}, nil
}

// wait sleeps up to timeoutMs (a negative timeoutMs waits at most one
// second), draining the wakeup pipe if signalled.
func (p *portablePoller) wait(timeoutMs int) ([]readyFD, error) {
	if timeoutMs < 0 {
		timeoutMs = 1000
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	_ = p.rPipe.SetReadDeadline(deadline)
	var buf [64]byte
	_, _ = p.rPipe.Read(buf[:])
	return nil, nil
}

func (p *portablePoller) wakeupWrite() error {
	_, err := p.wPipe.Write([]byte{1})
	return err
}

func (p *portablePoller) close() error {
	_ = p.wPipe.Close()
	return p.rPipe.Close()
}
