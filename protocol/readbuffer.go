// Package protocol implements the streaming HTTP/1.1 and WebSocket
// protocol engine: a buffered read layer shared by both, message
// parsing/writing, frame codec, the common WebSocket state machine, and
// the client/server handshake (spec §4.5-§4.9).
package protocol

import (
	"sync"

	"github.com/loopwire/loopwire/futures"
	"github.com/loopwire/loopwire/protoerr"
)

// MaxLineLength bounds a single read_until scan (status/request line,
// header line, chunk-size line) per spec §6.
const MaxLineLength = 8190

// PayloadReaderFunc is a resumable consumer of a ReadBuffer's incoming
// bytes. It runs on its own goroutine and blocks inside the buffer's
// Read* methods at each suspension point, the Go-native rendering of
// the protocol design's generator-based payload reader (spec §9).
type PayloadReaderFunc func(b *ReadBuffer) (any, error)

// ReadBuffer is the byte-offset chunk queue feeding HTTP and WebSocket
// parsing: chunks arrive from Protocol.DataReceived (on the owning
// loop's goroutine) while at most one payload reader goroutine consumes
// them via the blocking Read* methods (spec §3 "ReadProtocol buffer
// state", §4.5).
type ReadBuffer struct {
	loop futures.Scheduler

	mu       sync.Mutex
	chunks   [][]byte
	offset   int
	atEOF    bool
	err      error
	notify   chan struct{}
	hasOwner bool // exactly one active payload reader (spec open question #1)
}

// NewReadBuffer returns an empty buffer feeding payload-reader futures
// through loop.
func NewReadBuffer(loop futures.Scheduler) *ReadBuffer {
	return &ReadBuffer{loop: loop, notify: make(chan struct{})}
}

func (b *ReadBuffer) wake() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// Feed appends a chunk of newly received bytes. Safe to call from any
// goroutine; typically called from Protocol.DataReceived.
func (b *ReadBuffer) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	b.mu.Lock()
	b.chunks = append(b.chunks, cp)
	b.wake()
	b.mu.Unlock()
}

// FeedEOF marks the stream as ended: a ReadExactly waiting for more
// bytes than remain observes EOFPartial, a ReadUntil still looking for
// its separator gets a PayloadError, and ReadUntilEOF returns the rest.
func (b *ReadBuffer) FeedEOF() {
	b.mu.Lock()
	b.atEOF = true
	b.wake()
	b.mu.Unlock()
}

// FeedException injects a transport-level failure into the active
// reader, e.g. a connection reset mid-body.
func (b *ReadBuffer) FeedException(err error) {
	b.mu.Lock()
	b.err = err
	b.wake()
	b.mu.Unlock()
}

func (b *ReadBuffer) available() int {
	total := -b.offset
	for _, c := range b.chunks {
		total += len(c)
	}
	return total
}

// drain removes and returns exactly n unread bytes, advancing offset
// and popping fully consumed leading chunks (spec §4.5 "offset is
// advanced instead of re-allocating the leading chunk").
func (b *ReadBuffer) drain(n int) []byte {
	out := make([]byte, 0, n)
	for n > 0 {
		head := b.chunks[0]
		remain := head[b.offset:]
		if len(remain) <= n {
			out = append(out, remain...)
			n -= len(remain)
			b.chunks = b.chunks[1:]
			b.offset = 0
		} else {
			out = append(out, remain[:n]...)
			b.offset += n
			n = 0
		}
	}
	return out
}

// peekUpTo returns a copy of the first up to n unread bytes without
// consuming them, for separator scanning.
func (b *ReadBuffer) peekUpTo(n int) []byte {
	out := make([]byte, 0, n)
	off := b.offset
	for _, c := range b.chunks {
		remain := c[off:]
		off = 0
		if len(out)+len(remain) >= n {
			out = append(out, remain[:n-len(out)]...)
			break
		}
		out = append(out, remain...)
	}
	return out
}

func (b *ReadBuffer) waitFor() <-chan struct{} { return b.notify }

// ReadExactly blocks the calling (reader) goroutine until exactly n
// bytes have been collected, returning them. If EOF arrives first, it
// returns protoerr.EOFPartial carrying whatever was collected (spec
// §4.5, §8.12).
func (b *ReadBuffer) ReadExactly(n int) ([]byte, error) {
	for {
		b.mu.Lock()
		if b.available() >= n {
			out := b.drain(n)
			b.mu.Unlock()
			return out, nil
		}
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		if b.atEOF {
			partial := b.drain(b.available())
			b.mu.Unlock()
			return nil, protoerr.EOFPartial("EOF before read_exactly completed", partial)
		}
		ch := b.waitFor()
		b.mu.Unlock()
		<-ch
	}
}

// ReadUntil blocks until sep is found in the stream, returning
// everything up to (but not including) sep, with sep itself consumed.
// A match that would require scanning more than MaxLineLength bytes is
// a PayloadError (spec §4.5, §6 MAX_LINE_LENGTH).
func (b *ReadBuffer) ReadUntil(sep []byte) ([]byte, error) {
	for {
		b.mu.Lock()
		avail := b.available()
		scanLen := avail
		if scanLen > MaxLineLength+len(sep) {
			scanLen = MaxLineLength + len(sep)
		}
		buf := b.peekUpTo(scanLen)
		if idx := indexOf(buf, sep); idx >= 0 {
			out := b.drain(idx)
			b.drain(len(sep))
			b.mu.Unlock()
			return out, nil
		}
		if avail > MaxLineLength {
			b.mu.Unlock()
			return nil, protoerr.Payload("line exceeds MAX_LINE_LENGTH", buf)
		}
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		if b.atEOF {
			b.mu.Unlock()
			return nil, protoerr.Payload("EOF while reading until separator", buf)
		}
		ch := b.waitFor()
		b.mu.Unlock()
		<-ch
	}
}

// ReadUntilCRLF is ReadUntil(sep="\r\n"), the line reader used for
// status/request lines, header lines, and chunk-size lines.
func (b *ReadBuffer) ReadUntilCRLF() ([]byte, error) {
	return b.ReadUntil([]byte("\r\n"))
}

// ReadUntilEOF collects every remaining byte until the stream ends,
// used for HTTP/1.0-style bodies with no declared length (spec §4.6.3).
func (b *ReadBuffer) ReadUntilEOF() ([]byte, error) {
	for {
		b.mu.Lock()
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		if b.atEOF {
			out := b.drain(b.available())
			b.mu.Unlock()
			return out, nil
		}
		ch := b.waitFor()
		b.mu.Unlock()
		<-ch
	}
}

// SetPayloadReader installs fn as the sole active payload reader,
// running it on its own goroutine, and returns a Future that resolves
// with fn's return value once it returns. Calling this while a reader
// is already active is a programming error (spec §9 open question #1):
// it panics rather than silently queuing or replacing the existing one.
func (b *ReadBuffer) SetPayloadReader(fn PayloadReaderFunc) *futures.Future {
	b.mu.Lock()
	if b.hasOwner {
		b.mu.Unlock()
		panic("protocol: SetPayloadReader called while a reader is already active")
	}
	b.hasOwner = true
	b.mu.Unlock()

	f := futures.New(b.loop)
	go func() {
		v, err := fn(b)
		b.mu.Lock()
		b.hasOwner = false
		b.mu.Unlock()
		complete := func() {
			if err != nil {
				_ = f.SetException(err)
			} else {
				_ = f.SetResult(v)
			}
		}
		if b.loop != nil {
			b.loop.CallSoonThreadSafe(complete)
		} else {
			complete()
		}
	}()
	return f
}

func indexOf(haystack, needle []byte) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
