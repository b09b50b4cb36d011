package protocol

import (
	"github.com/loopwire/loopwire/futures"
	"github.com/loopwire/loopwire/internal/loop"
)

// StreamProtocol bridges a loop.Transport to a ReadBuffer: incoming
// bytes are fed straight into Read, and the three Transport lifecycle
// callbacks this package's HTTP/WebSocket readers care about are exposed
// as plain fields instead of requiring a dedicated type per caller (spec
// §4.4 Protocol, driving §4.5's ReadBuffer).
type StreamProtocol struct {
	Read *ReadBuffer

	OnConnectionMade func(t *loop.Transport)
	OnConnectionLost func(err error)
	// OnEOF mirrors Protocol.EOFReceived: return true to keep the
	// transport half-open after the peer's FIN. Defaults to false.
	OnEOF func() bool
	OnPause  func()
	OnResume func()

	transport *loop.Transport
}

// NewStreamProtocol returns a StreamProtocol feeding a fresh ReadBuffer
// bound to sched (used to complete any payload-reader Future it spawns).
func NewStreamProtocol(sched futures.Scheduler) *StreamProtocol {
	return &StreamProtocol{Read: NewReadBuffer(sched)}
}

func (p *StreamProtocol) ConnectionMade(t *loop.Transport) {
	p.transport = t
	if p.OnConnectionMade != nil {
		p.OnConnectionMade(t)
	}
}

func (p *StreamProtocol) ConnectionLost(err error) {
	if err != nil {
		p.Read.FeedException(err)
	} else {
		p.Read.FeedEOF()
	}
	if p.OnConnectionLost != nil {
		p.OnConnectionLost(err)
	}
}

func (p *StreamProtocol) DataReceived(b []byte) {
	p.Read.Feed(b)
}

func (p *StreamProtocol) EOFReceived() bool {
	p.Read.FeedEOF()
	if p.OnEOF != nil {
		return p.OnEOF()
	}
	return false
}

func (p *StreamProtocol) PauseWriting() {
	if p.OnPause != nil {
		p.OnPause()
	}
}

func (p *StreamProtocol) ResumeWriting() {
	if p.OnResume != nil {
		p.OnResume()
	}
}

// Transport returns the transport bound at ConnectionMade time, or nil
// before the connection is established.
func (p *StreamProtocol) Transport() *loop.Transport { return p.transport }

var _ loop.Protocol = (*StreamProtocol)(nil)
