package loop

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/loopwire/loopwire/internal/obslog"
)

// Protocol is what a Transport drives: connection lifecycle and data
// delivery callbacks (spec §4.4). ConnectionMade runs synchronously on the
// goroutine that creates the Transport; the others run on the owning
// loop's goroutine.
type Protocol interface {
	ConnectionMade(t *Transport)
	ConnectionLost(err error)
	DataReceived(p []byte)
	// EOFReceived returns true to keep the transport half-open (the
	// protocol wants to keep writing after the peer's FIN).
	EOFReceived() bool
	PauseWriting()
	ResumeWriting()
}

// watermarks control backpressure: once the outgoing buffer exceeds
// highWater, PauseWriting fires; once it drains below lowWater,
// ResumeWriting fires (spec §4.4).
const (
	highWaterMark = 64 * 1024
	lowWaterMark  = 16 * 1024
)

// Transport wraps a net.Conn with the write-buffering/backpressure and
// drain-waiter semantics spec'd for the Transport/Protocol layer. Actual
// byte delivery rides on Go's runtime netpoller via net.Conn — the
// loop's own epoll-based poller is reserved for the cross-thread wakeup
// self-pipe (see poller_linux.go).
type Transport struct {
	loop  *EventLoop
	conn  net.Conn
	proto Protocol

	mu       sync.Mutex
	writeBuf [][]byte
	pending  int
	closing  bool
	paused   bool

	hasData  chan struct{} // signalled (non-blocking) when writeBuf gains an item
	drainGen chan struct{} // closed and replaced whenever pending drops to <= lowWaterMark
}

func newTransport(l *EventLoop, conn net.Conn, proto Protocol) *Transport {
	t := &Transport{
		loop:     l,
		conn:     conn,
		proto:    proto,
		hasData:  make(chan struct{}, 1),
		drainGen: closedChan(),
	}
	proto.ConnectionMade(t)
	go t.readLoop()
	go t.writeLoop()
	return t
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *Transport) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.loop.CallSoonThreadSafe(func() { t.proto.DataReceived(chunk) })
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.loop.CallSoonThreadSafe(func() {
					if !t.proto.EOFReceived() {
						t.closeLocked(nil)
					}
				})
				return
			}
			t.loop.CallSoonThreadSafe(func() { t.closeLocked(err) })
			return
		}
	}
}

func (t *Transport) writeLoop() {
	for {
		t.mu.Lock()
		for len(t.writeBuf) == 0 && !t.closing {
			t.mu.Unlock()
			<-t.hasData
			t.mu.Lock()
		}
		if t.closing && len(t.writeBuf) == 0 {
			t.mu.Unlock()
			_ = t.conn.Close()
			return
		}
		chunk := t.writeBuf[0]
		t.writeBuf = t.writeBuf[1:]
		t.pending -= len(chunk)
		shouldResume := t.paused && t.pending <= lowWaterMark
		if shouldResume {
			t.paused = false
			close(t.drainGen)
			t.drainGen = make(chan struct{})
		}
		t.mu.Unlock()

		if shouldResume {
			t.loop.CallSoonThreadSafe(func() { t.proto.ResumeWriting() })
		}
		if _, err := t.conn.Write(chunk); err != nil {
			obslog.For("transport").WithError(err).Debug("write failed")
			t.loop.CallSoonThreadSafe(func() { t.closeLocked(err) })
			return
		}
	}
}

func (t *Transport) signalHasData() {
	select {
	case t.hasData <- struct{}{}:
	default:
	}
}

// Write enqueues bytes for the write goroutine; it never blocks the
// caller. Crossing the high-water mark schedules PauseWriting.
func (t *Transport) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	cp := make([]byte, len(p))
	copy(cp, p)

	t.mu.Lock()
	t.writeBuf = append(t.writeBuf, cp)
	t.pending += len(cp)
	crossedHigh := !t.paused && t.pending > highWaterMark
	if crossedHigh {
		t.paused = true
	}
	t.mu.Unlock()
	t.signalHasData()

	if crossedHigh {
		t.loop.CallSoonThreadSafe(func() { t.proto.PauseWriting() })
	}
}

// WriteLines writes each slice as a separate queued chunk, preserving
// order, matching writelines() in spec §4.4.
func (t *Transport) WriteLines(chunks [][]byte) {
	for _, c := range chunks {
		t.Write(c)
	}
}

// CanWriteEOF reports whether the underlying transport supports a
// half-close (TCP does).
func (t *Transport) CanWriteEOF() bool {
	_, ok := t.conn.(interface{ CloseWrite() error })
	return ok
}

// WriteEOF half-closes the write side, if supported.
func (t *Transport) WriteEOF() error {
	if cw, ok := t.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// IsClosing reports whether Close/Abort has been called.
func (t *Transport) IsClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closing
}

// Close requests a graceful close: pending writes flush first.
func (t *Transport) Close() {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	t.signalHasData()
}

// Abort closes immediately, discarding any unflushed writes.
func (t *Transport) Abort() {
	t.mu.Lock()
	t.closing = true
	t.writeBuf = nil
	t.mu.Unlock()
	t.signalHasData()
	_ = t.conn.Close()
}

func (t *Transport) closeLocked(err error) {
	_ = t.conn.Close()
	t.proto.ConnectionLost(err)
}

// ExtraInfo exposes metadata about the underlying connection (spec
// §4.4 get_extra_info): "socket", "peername", "sockname".
func (t *Transport) ExtraInfo(key string) any {
	switch key {
	case "peername":
		return t.conn.RemoteAddr()
	case "sockname":
		return t.conn.LocalAddr()
	case "socket":
		return t.conn
	default:
		return nil
	}
}

// DrainWaiter returns a channel that is already closed if the write
// buffer is currently at or below the low-water mark, or that closes the
// next time it drops there — the suspension point a writer awaits before
// queuing more data (spec §5 backpressure).
func (t *Transport) DrainWaiter() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending <= lowWaterMark {
		return closedChan()
	}
	return t.drainGen
}
