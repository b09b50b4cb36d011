package loop

import (
	"container/heap"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loopwire/loopwire/control"
	"github.com/loopwire/loopwire/futures"
	"github.com/loopwire/loopwire/internal/obslog"
)

// ExceptionHandler receives an exception raised by a user callback along
// with a short context string. The loop never swallows these silently
// (spec §7); the default handler logs through obslog.
type ExceptionHandler func(err error, context string)

// EventLoop is the cooperative scheduler: ready queue, timer heap,
// selector poll and cross-thread wakeup (spec §4.3). One EventLoop owns
// exactly one OS thread's worth of cooperative state; other goroutines
// may only reach in through CallSoonThreadSafe.
type EventLoop struct {
	ready *readyQueue
	pl    poller

	timersMu sync.Mutex
	timers   timerHeap

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	excHandler atomic.Value // ExceptionHandler
	metrics    *control.Metrics
}

// SetMetrics attaches a control.Metrics bundle; Run then reports
// ready-queue/timer gauges each iteration and CreateTask counts
// created/completed tasks.
func (l *EventLoop) SetMetrics(m *control.Metrics) { l.metrics = m }

// New constructs an EventLoop. Callers must call Run (typically in its
// own goroutine standing in for "the owning OS thread") before
// CallLater/poll-driven I/O can make progress.
func New() (*EventLoop, error) {
	pl, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("event loop: create poller: %w", err)
	}
	l := &EventLoop{
		ready:  newReadyQueue(),
		pl:     pl,
		stopCh: make(chan struct{}),
	}
	l.excHandler.Store(ExceptionHandler(defaultExceptionHandler))
	return l, nil
}

func defaultExceptionHandler(err error, context string) {
	obslog.For("eventloop").WithError(err).Warn(context)
}

// SetExceptionHandler overrides how uncaught callback panics/errors are
// reported.
func (l *EventLoop) SetExceptionHandler(h ExceptionHandler) {
	l.excHandler.Store(h)
}

func (l *EventLoop) reportException(err error, context string) {
	h := l.excHandler.Load().(ExceptionHandler)
	h(err, context)
}

// CallSoon schedules cb to run on this loop's next ready-queue pass.
// Intended for use from the loop's own goroutine or from within a
// callback currently executing on it.
func (l *EventLoop) CallSoon(cb func()) {
	l.ready.push(newHandle(l.guarded(cb, "call_soon callback")))
}

// CallSoonThreadSafe is the only supported way to schedule work from a
// goroutine other than the loop's own; it enqueues cb and, if the loop is
// blocked in a poll wait, wakes it via the self-pipe (spec §3, §4.3).
func (l *EventLoop) CallSoonThreadSafe(cb func()) {
	l.ready.push(newHandle(l.guarded(cb, "call_soon_thread_safe callback")))
	_ = l.pl.wakeupWrite()
}

func (l *EventLoop) guarded(cb func(), context string) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				l.reportException(fmt.Errorf("panic: %v", r), context)
			}
		}()
		cb()
	}
}

// CallLater schedules cb to run after delay has elapsed.
func (l *EventLoop) CallLater(delay time.Duration, cb func()) *TimerHandle {
	return l.CallAt(Time()+delay.Seconds(), cb)
}

// CallAt schedules cb to run once LOOP_TIME() reaches when (seconds).
func (l *EventLoop) CallAt(when float64, cb func()) *TimerHandle {
	th := &TimerHandle{Handle: Handle{callback: l.guarded(cb, "timer callback")}, when: when}
	l.timersMu.Lock()
	heap.Push(&l.timers, th)
	l.timersMu.Unlock()
	return th
}

// CallLaterWeak schedules cb to run after delay, but only if target is
// still alive when the timer fires (spec §4.1 weak timer handles).
func (l *EventLoop) CallLaterWeak(delay time.Duration, target *WeakTarget, cb func()) *TimerHandle {
	return l.CallLater(delay, NewWeakTimerCallback(target, cb))
}

// CreateFuture returns a new Future pinned to this loop.
func (l *EventLoop) CreateFuture() *futures.Future {
	return futures.New(l)
}

// CreateTask runs step in a new Task pinned to this loop.
func (l *EventLoop) CreateTask(ctx context.Context, step futures.Step) *futures.Task {
	t := futures.NewTask(l, ctx, step)
	if l.metrics != nil {
		l.metrics.TasksCreated.Inc()
		t.AddDoneCallback(func(*futures.Future) { l.metrics.TasksCompleted.Inc() })
	}
	return t
}

// Run executes the cooperative scheduler until Stop is called. Each
// iteration: (1) timers whose time has come move to the ready queue; (2)
// the selector is polled for at most the time until the next timer; (3)
// every handle currently in the ready queue runs exactly once — handles
// scheduled during this pass run on the next iteration (spec §4.3).
func (l *EventLoop) Run() {
	l.running.Store(true)
	defer l.running.Store(false)

	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		now := Time()
		l.timersMu.Lock()
		for l.timers.peek() != nil && l.timers.peek().when <= now {
			th := heap.Pop(&l.timers).(*TimerHandle)
			if !th.cancelled {
				l.ready.push(&th.Handle)
			}
		}
		var timeoutMs int
		if next := l.timers.peek(); next != nil {
			remaining := next.when - now
			if remaining < 0 {
				remaining = 0
			}
			timeoutMs = int(remaining * 1000)
		} else {
			timeoutMs = 1000
		}
		l.timersMu.Unlock()

		if l.ready.len() > 0 {
			timeoutMs = 0
		}

		if _, err := l.pl.wait(timeoutMs); err != nil {
			l.reportException(err, "poller wait")
		}

		var batch []*Handle
		n := l.ready.drainInto(&batch)
		for i := 0; i < n; i++ {
			batch[i].run()
		}

		if l.metrics != nil {
			l.metrics.ReadyQueueLength.Set(float64(l.ready.len()))
			l.timersMu.Lock()
			l.metrics.TimersPending.Set(float64(len(l.timers)))
			l.timersMu.Unlock()
		}
	}
}

// Stop requests the loop to exit after finishing its current iteration.
func (l *EventLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// IsRunning reports whether Run is currently executing.
func (l *EventLoop) IsRunning() bool { return l.running.Load() }

// Close releases the poller resources. Call after Run has returned.
func (l *EventLoop) Close() error {
	return l.pl.close()
}

// GetAddressInfo resolves host:port on a worker goroutine ("run in a
// worker thread", spec §4.3) and completes the returned Future with
// []net.IPAddr on success.
func (l *EventLoop) GetAddressInfo(ctx context.Context, host, port string) *futures.Future {
	f := l.CreateFuture()
	go func() {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			l.CallSoonThreadSafe(func() { _ = f.SetException(err) })
			return
		}
		_ = port
		l.CallSoonThreadSafe(func() { _ = f.SetResult(addrs) })
	}()
	return f
}

// CreateConnectionTo dials host:port (optionally TLS) and returns a
// Transport driving the given Protocol (spec §4.3 create_connection_to).
func (l *EventLoop) CreateConnectionTo(ctx context.Context, newProto func() Protocol, network, addr string, tlsConfig TLSConfig) (*Transport, error) {
	conn, err := dialMaybeTLS(ctx, network, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return newTransport(l, conn, newProto()), nil
}

// DialRaw opens a plain (non-Transport-wrapped) net.Conn, for callers
// that need to speak a bootstrap protocol (e.g. a proxy CONNECT
// handshake) on the bare socket before handing it off to a Transport.
func (l *EventLoop) DialRaw(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// UpgradeClientTLS performs a client-side TLS handshake over conn using
// cfg (SNI taken from cfg.ServerName), returning the wrapped connection.
// Used after a proxy CONNECT tunnel is established to an HTTPS origin.
func (l *EventLoop) UpgradeClientTLS(ctx context.Context, conn net.Conn, cfg TLSConfig) (net.Conn, error) {
	return upgradeClientTLS(ctx, conn, cfg)
}

// AdoptConn wraps an already-established net.Conn (e.g. post-CONNECT,
// post-TLS-upgrade) in a Transport driving proto, without dialing.
func (l *EventLoop) AdoptConn(conn net.Conn, proto Protocol) *Transport {
	return newTransport(l, conn, proto)
}

// Server accepts inbound connections and spins up a Transport/Protocol
// pair per client, mirroring create_server_to's return value.
type Server struct {
	ln       net.Listener
	loop     *EventLoop
	newProto func() Protocol
	tls      TLSConfig
}

// CreateServerTo listens on network/addr and, for each accepted
// connection, constructs a fresh Protocol via newProto (spec §4.3
// create_server_to).
func (l *EventLoop) CreateServerTo(newProto func() Protocol, network, addr string, tlsConfig TLSConfig) (*Server, error) {
	ln, err := listenMaybeTLS(network, addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, loop: l, newProto: newProto, tls: tlsConfig}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		newTransport(s.loop, conn, s.newProto())
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }
