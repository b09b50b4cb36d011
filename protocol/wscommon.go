package protocol

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/loopwire/loopwire/futures"
	"github.com/loopwire/loopwire/internal/loop"
	"github.com/loopwire/loopwire/protoerr"
)

// ConnState is one of the four WebSocket protocol states (spec §3).
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

// DefaultMaxSize and DefaultCloseTimeout are the spec's configured
// defaults (spec §6): 64 MiB payload cap, 10 s close handshake budget.
const (
	DefaultMaxSize     = 64 * 1024 * 1024
	DefaultCloseTimeout = 10 * time.Second
)

var validCloseCodes = map[uint16]bool{
	1000: true, 1001: true, 1002: true, 1003: true, 1007: true,
	1008: true, 1009: true, 1010: true, 1011: true, 1013: true,
}

func closeCodeValid(code uint16) bool {
	if validCloseCodes[code] {
		return true
	}
	return code >= 3000 && code < 5000
}

// Extension is one link of the WebSocket extension chain: applied
// reverse-order on decode and forward-order on encode (spec §4.8).
type Extension interface {
	Name() string
	Decode(f *Frame, maxSize int64) (*Frame, error)
	Encode(f *Frame) (*Frame, error)
}

// Message is one reassembled WebSocket message handed to the receiver.
type Message struct {
	Opcode Opcode // OpText or OpBinary
	Data   []byte
}

// Conn is the shared WebSocket protocol state machine used by both the
// client and server roles: open/close state, ping/pong correlation,
// fragment reassembly, and the extension chain (spec §3 "WebSocket
// protocol state", §4.8).
type Conn struct {
	transport   *loop.Transport
	read        *ReadBuffer
	isClient    bool // client masks writes, server never does
	maxSize     int64
	closeTimeout time.Duration
	extensions  []Extension

	mu          sync.Mutex
	state       ConnState
	closeCode   uint16
	closeReason string

	pingsMu   sync.Mutex
	pingOrder []string
	pings     map[string]*futures.Future

	messages chan msgOrErr

	drainLock sync.Mutex

	loop           futures.Scheduler
	transferTask   *futures.Task
	closeConnTask  *futures.Task
}

type msgOrErr struct {
	msg Message
	err error
}

// NewConn wraps transport/read as an OPEN WebSocket connection, ready to
// run Start.
func NewConn(sched futures.Scheduler, transport *loop.Transport, read *ReadBuffer, isClient bool, maxSize int64, closeTimeout time.Duration, extensions []Extension) *Conn {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if closeTimeout <= 0 {
		closeTimeout = DefaultCloseTimeout
	}
	return &Conn{
		transport:    transport,
		read:         read,
		isClient:     isClient,
		maxSize:      maxSize,
		closeTimeout: closeTimeout,
		extensions:   extensions,
		state:        StateOpen,
		pings:        make(map[string]*futures.Future),
		messages:     make(chan msgOrErr, 16),
		loop:         sched,
	}
}

// State returns the current protocol state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

// Start launches the receive loop (transfer_data) as a cancellable Task
// bound to ctx (spec §4.8).
func (c *Conn) Start(ctx context.Context) {
	c.transferTask = futures.NewTask(c.loop, ctx, func(t *futures.Task) (any, error) {
		c.transferData(t)
		return nil, nil
	})
}

// Receive blocks until the next reassembled message, or returns a
// ConnectionClosed error once the connection has terminated (spec §3
// "messages: AsyncQueue<Message>").
func (c *Conn) Receive() (Message, error) {
	item, ok := <-c.messages
	if !ok {
		return Message{}, protoerr.ConnectionClosed(c.closeCode, c.closeReason)
	}
	return item.msg, item.err
}

func (c *Conn) deliverMessage(m Message) {
	select {
	case c.messages <- msgOrErr{msg: m}:
	default:
		go func() { c.messages <- msgOrErr{msg: m} }()
	}
}

func (c *Conn) deliverError(err error) {
	c.messages <- msgOrErr{err: err}
	close(c.messages)
}

// transferData is the receive loop: reads frames, answers
// ping/pong/close internally, and reassembles fragmented data frames
// into whole Messages (spec §4.8).
func (c *Conn) transferData(t *futures.Task) {
	var fragments []byte
	var fragOpcode Opcode
	var fragmenting bool

	finish := func(code uint16, reason string, err error) {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		c.deliverError(err)
	}

	for {
		remaining := c.maxSize
		frame, err := ReadFrame(c.read, !c.isClient, remaining)
		if err != nil {
			code, reason := mapReceiveError(err)
			finish(code, reason, protoerr.ConnectionClosed(code, reason))
			return
		}

		frame, err = c.decodeChain(frame)
		if err != nil {
			code, reason := mapReceiveError(err)
			finish(code, reason, protoerr.ConnectionClosed(code, reason))
			return
		}

		switch frame.Opcode {
		case OpPing:
			_ = c.writeFrame(&Frame{Fin: true, Opcode: OpPong, Payload: frame.Payload})
			continue
		case OpPong:
			c.resolvePong(frame.Payload)
			continue
		case OpClose:
			code, reason, err := parseCloseFrame(frame.Payload)
			if err != nil {
				ec, ereason := mapReceiveError(err)
				finish(ec, ereason, protoerr.ConnectionClosed(ec, ereason))
				return
			}
			if code == 0 {
				finish(1005, "", protoerr.ConnectionClosed(1005, ""))
				return
			}
			c.setState(StateClosing)
			_ = c.writeFrame(&Frame{Fin: true, Opcode: OpClose, Payload: frame.Payload})
			finish(code, reason, protoerr.ConnectionClosed(code, reason))
			return
		}

		if !fragmenting {
			if frame.Opcode != OpText && frame.Opcode != OpBinary {
				finish(1002, "unexpected continuation", protoerr.ConnectionClosed(1002, "unexpected continuation"))
				return
			}
			if frame.Fin {
				if frame.Opcode == OpText && !utf8.Valid(frame.Payload) {
					finish(1007, "invalid utf-8", protoerr.ConnectionClosed(1007, "invalid utf-8"))
					return
				}
				c.deliverMessage(Message{Opcode: frame.Opcode, Data: frame.Payload})
				continue
			}
			fragmenting = true
			fragOpcode = frame.Opcode
			fragments = append([]byte{}, frame.Payload...)
			continue
		}

		if frame.Opcode != OpContinuation {
			finish(1002, "expected continuation frame", protoerr.ConnectionClosed(1002, "expected continuation frame"))
			return
		}
		fragments = append(fragments, frame.Payload...)
		if frame.Fin {
			if fragOpcode == OpText && !utf8.Valid(fragments) {
				finish(1007, "invalid utf-8", protoerr.ConnectionClosed(1007, "invalid utf-8"))
				return
			}
			c.deliverMessage(Message{Opcode: fragOpcode, Data: fragments})
			fragmenting = false
			fragments = nil
		}
	}
}

// mapReceiveError maps the receive-loop exception taxonomy to a close
// code (spec §4.8 "Exception mapping on the receive loop").
func mapReceiveError(err error) (code uint16, reason string) {
	switch {
	case protoerr.Is(err, protoerr.KindWebSocketProtocol):
		return 1002, "protocol error"
	case protoerr.Is(err, protoerr.KindEOF), protoerr.Is(err, protoerr.KindTimeout), protoerr.Is(err, protoerr.KindConnection):
		return 1006, ""
	case protoerr.Is(err, protoerr.KindPayload):
		return 1009, "payload too large"
	default:
		return 1011, "internal error"
	}
}

// parseCloseFrame distinguishes "no code given" (empty payload, caller
// maps to 1005) from a malformed close frame — a 1-byte payload or an
// out-of-range close code — which is a WebSocketProtocolError per spec
// §4.8/§8.14 and must map through mapReceiveError to 1002, not silently
// become 1005.
func parseCloseFrame(payload []byte) (code uint16, reason string, err error) {
	if len(payload) == 0 {
		return 0, "", nil
	}
	if len(payload) == 1 {
		return 0, "", protoerr.WebSocketProtocol("close frame with 1-byte payload")
	}
	code = binary.BigEndian.Uint16(payload[:2])
	if !closeCodeValid(code) {
		return 0, "", protoerr.WebSocketProtocol("invalid close code")
	}
	return code, string(payload[2:]), nil
}

func (c *Conn) decodeChain(f *Frame) (*Frame, error) {
	if len(c.extensions) == 0 && (f.Rsv1 || f.Rsv2 || f.Rsv3) {
		return nil, protoerr.WebSocketProtocol("reserved bits set with no extension negotiated")
	}
	var err error
	for i := len(c.extensions) - 1; i >= 0; i-- {
		f, err = c.extensions[i].Decode(f, c.maxSize)
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (c *Conn) encodeChain(f *Frame) (*Frame, error) {
	var err error
	for _, ext := range c.extensions {
		f, err = ext.Encode(f)
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

// WriteFrame serializes opcode/data, runs it through the extension
// encode chain, and writes it under the drain lock so concurrent
// writers never interleave frame bytes (spec §4.8 "write_frame", §5
// "frame drain lock").
func (c *Conn) WriteFrame(opcode Opcode, data []byte) error {
	return c.writeFrame(&Frame{Fin: true, Opcode: opcode, Payload: data})
}

// writeFrame acquires the drain lock and writes f, the single path
// every frame write — user-initiated or internal (PONG replies, close
// echoes) — must go through so concurrent writers never interleave
// frame bytes on the wire (spec §4.8 "write_frame", §5 "frame drain
// lock").
func (c *Conn) writeFrame(f *Frame) error {
	c.drainLock.Lock()
	defer c.drainLock.Unlock()
	return c.writeFrameLocked(f)
}

func (c *Conn) writeFrameLocked(f *Frame) error {
	f, err := c.encodeChain(f)
	if err != nil {
		return err
	}
	if err := WriteFrame(c.transport.Write, f, c.isClient); err != nil {
		return err
	}
	<-c.transport.DrainWaiter()
	return nil
}

// Ping sends a PING frame and returns a Future resolved when the
// matching PONG arrives (spec §4.8 ping/pong FIFO).
func (c *Conn) Ping(payload []byte) (*futures.Future, error) {
	f := futures.New(c.loop)
	c.pingsMu.Lock()
	key := string(payload)
	c.pingOrder = append(c.pingOrder, key)
	c.pings[key] = f
	c.pingsMu.Unlock()

	err := c.writeFrame(&Frame{Fin: true, Opcode: OpPing, Payload: payload})
	return f, err
}

// resolvePong resolves every pending ping up to and including the one
// whose payload matches, preserving strict FIFO order (spec §4.8, §8.7).
func (c *Conn) resolvePong(payload []byte) {
	c.pingsMu.Lock()
	defer c.pingsMu.Unlock()
	key := string(payload)
	idx := -1
	for i, k := range c.pingOrder {
		if k == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	for i := 0; i <= idx; i++ {
		if f, ok := c.pings[c.pingOrder[i]]; ok {
			_ = f.SetResult(nil)
			delete(c.pings, c.pingOrder[i])
		}
	}
	c.pingOrder = c.pingOrder[idx+1:]
}

// Close performs the graceful close handshake (spec §4.8 "close").
func (c *Conn) Close(code uint16, reason string) error {
	var payload []byte
	if code != 0 {
		payload = make([]byte, 2+len(reason))
		binary.BigEndian.PutUint16(payload, code)
		copy(payload[2:], reason)
	}

	c.setState(StateClosing)
	writeDone := make(chan error, 1)
	go func() { writeDone <- c.WriteFrame(OpClose, payload) }()

	select {
	case err := <-writeDone:
		if err != nil {
			return err
		}
	case <-time.After(c.closeTimeout):
		return c.FailConnection(1006)
	}

	if c.transferTask != nil {
		select {
		case <-c.transferTask.Done():
		case <-time.After(c.closeTimeout):
		}
	}
	return c.runCloseConnection()
}

// FailConnection aborts the connection non-gracefully (spec §4.8
// "fail_connection"): cancels the transfer task, optionally writes a
// close frame (never for the implicit code 1006 — spec.md's Open
// Question #3, resolved against legacy source parity), transitions to
// CLOSING, and ensures close_connection runs.
func (c *Conn) FailConnection(code uint16) error {
	if c.transferTask != nil {
		c.transferTask.Cancel()
	}
	if c.State() == StateOpen && code != 1006 {
		payload := make([]byte, 2)
		binary.BigEndian.PutUint16(payload, code)
		_ = c.WriteFrame(OpClose, payload)
	}
	c.setState(StateClosing)
	return c.runCloseConnection()
}

// runCloseConnection implements the close_connection steps: await
// transfer completion (bounded by closeTimeout), cancel outstanding
// pings, half-close if possible, then Close the transport. It does not
// wait for connection_lost (the client side only yields once) and never
// aborts the transport.
func (c *Conn) runCloseConnection() error {
	if c.transferTask != nil {
		select {
		case <-c.transferTask.Done():
		case <-time.After(c.closeTimeout):
		}
	}

	c.pingsMu.Lock()
	for _, f := range c.pings {
		f.Cancel()
	}
	c.pings = make(map[string]*futures.Future)
	c.pingOrder = nil
	c.pingsMu.Unlock()

	if c.isClient {
		time.Sleep(0) // connection_lost is delivered asynchronously by the transport
	}
	if c.transport.CanWriteEOF() {
		_ = c.transport.WriteEOF()
	}
	c.transport.Close()
	c.setState(StateClosed)
	return nil
}
