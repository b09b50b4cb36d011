package connector

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/loopwire/loopwire/control"
	"github.com/loopwire/loopwire/internal/loop"
	"github.com/loopwire/loopwire/protocol"
)

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ConnectionKey identifies a reusable pooled transport (spec §3
// ConnectionKey): equal keys may share an idle connection.
type ConnectionKey struct {
	Host        string
	Port        int
	IsSSL       bool
	ProxyHost   string
	ProxyPort   int
	Fingerprint string
}

// PooledConn pairs a transport with the Protocol driving it and the
// tracing id assigned when it was created.
type PooledConn struct {
	Transport   *loop.Transport
	Proto       *protocol.StreamProtocol
	TraceID     uuid.UUID
	ShouldClose func() bool // protocol-reported "do not reuse me" hint
}

func newPooledConn(tr *loop.Transport, proto *protocol.StreamProtocol) *PooledConn {
	return &PooledConn{Transport: tr, Proto: proto, TraceID: uuid.New()}
}

type idleEntry struct {
	conn     *PooledConn
	lastUsed float64
}

// Pool tracks per-host idle and acquired connections and a keep-alive
// cleanup timer (spec §3 "Connector pool", §4.11).
type Pool struct {
	evLoop *loop.EventLoop

	aliveByHost     map[ConnectionKey][]idleEntry
	acquired        map[*PooledConn]bool
	acquiredByHost  map[ConnectionKey]map[*PooledConn]bool
	cleanupHandle   *loop.TimerHandle
	cleanupTarget   *loop.WeakTarget
	keepAlive       float64
	forceClose      bool

	metrics *control.Metrics
}

// NewPool returns an empty pool bound to evLoop, evicting idle
// connections after keepAliveSeconds of inactivity (spec §6
// KEEP_ALIVE_TIMEOUT = 15s).
func NewPool(evLoop *loop.EventLoop, keepAliveSeconds float64, metrics *control.Metrics) *Pool {
	return &Pool{
		evLoop:         evLoop,
		aliveByHost:    make(map[ConnectionKey][]idleEntry),
		acquired:       make(map[*PooledConn]bool),
		acquiredByHost: make(map[ConnectionKey]map[*PooledConn]bool),
		keepAlive:      keepAliveSeconds,
		metrics:        metrics,
	}
}

// GetProtocol returns a still-healthy idle connection for key, draining
// (and closing) any entries that exceeded the keep-alive timeout along
// the way (spec §4.11 "get_protocol").
func (p *Pool) GetProtocol(key ConnectionKey) *PooledConn {
	entries := p.aliveByHost[key]
	now := loop.Time()
	var kept []idleEntry
	var found *PooledConn
	for _, e := range entries {
		if now-e.lastUsed > p.keepAlive {
			p.closeEntry(e.conn, key.IsSSL)
			continue
		}
		if found == nil {
			found = e.conn
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(p.aliveByHost, key)
	} else {
		p.aliveByHost[key] = kept
	}
	if found != nil {
		p.acquired[found] = true
		if p.acquiredByHost[key] == nil {
			p.acquiredByHost[key] = make(map[*PooledConn]bool)
		}
		p.acquiredByHost[key][found] = true
	}
	if found != nil && p.metrics != nil {
		p.metrics.PoolIdleConnections.WithLabelValues(key.Host).Set(float64(len(p.aliveByHost[key])))
	}
	return found
}

// Acquire registers conn as in-use under key (spec §4.11 step 4).
func (p *Pool) Acquire(key ConnectionKey, conn *PooledConn) {
	p.acquired[conn] = true
	if p.acquiredByHost[key] == nil {
		p.acquiredByHost[key] = make(map[*PooledConn]bool)
	}
	p.acquiredByHost[key][conn] = true
	if p.metrics != nil {
		p.metrics.PoolConnectionsCreated.Inc()
		p.metrics.PoolAcquiredConnections.WithLabelValues(key.Host).Set(float64(len(p.acquiredByHost[key])))
	}
}

// Release returns conn to the idle pool (or closes it), per spec
// §4.11 "release".
func (p *Pool) Release(key ConnectionKey, conn *PooledConn, shouldClose bool) {
	delete(p.acquired, conn)
	if set := p.acquiredByHost[key]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(p.acquiredByHost, key)
		}
	}
	if p.metrics != nil {
		p.metrics.PoolAcquiredConnections.WithLabelValues(key.Host).Set(float64(len(p.acquiredByHost[key])))
	}

	if shouldClose || p.forceClose || (conn.ShouldClose != nil && conn.ShouldClose()) {
		p.closeEntry(conn, key.IsSSL)
		return
	}
	p.aliveByHost[key] = append(p.aliveByHost[key], idleEntry{conn: conn, lastUsed: loop.Time()})
	if p.metrics != nil {
		p.metrics.PoolIdleConnections.WithLabelValues(key.Host).Set(float64(len(p.aliveByHost[key])))
	}
	p.scheduleCleanup()
}

func (p *Pool) closeEntry(conn *PooledConn, isSSL bool) {
	if isSSL {
		conn.Transport.Abort()
	} else {
		conn.Transport.Close()
	}
	if p.metrics != nil {
		p.metrics.PoolConnectionsClosed.Inc()
	}
}

// scheduleCleanup arms a weak timer handle (spec §3 "cleanup_handle:
// Option<WeakTimerHandle>") that sweeps expired idle entries, only if
// one isn't already pending.
func (p *Pool) scheduleCleanup() {
	if p.cleanupHandle != nil {
		return
	}
	p.cleanupTarget = loop.NewWeakTarget()
	p.cleanupHandle = p.evLoop.CallLaterWeak(secondsToDuration(p.keepAlive), p.cleanupTarget, p.cleanup)
}

func (p *Pool) cleanup() {
	p.cleanupHandle = nil
	now := loop.Time()
	anyRemain := false
	for key, entries := range p.aliveByHost {
		var kept []idleEntry
		for _, e := range entries {
			if now-e.lastUsed > p.keepAlive {
				p.closeEntry(e.conn, key.IsSSL)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(p.aliveByHost, key)
		} else {
			p.aliveByHost[key] = kept
			anyRemain = true
		}
	}
	if anyRemain {
		p.scheduleCleanup()
	}
}

// TotalAcquired is the invariant checked by spec §8.5: |acquired| plus
// every per-host idle count should equal created minus closed.
func (p *Pool) TotalAcquired() int { return len(p.acquired) }

// Shutdown attempts a graceful half-close (WriteEOF) of every non-TLS
// idle and still-acquired connection that supports one, then aborts
// every connection, returning every
// WriteEOF failure joined together rather than stopping at the first
// one — a process shutdown should give every connection its chance to
// drain even if an earlier one errors.
func (p *Pool) Shutdown() error {
	var errs error
	drain := func(conn *PooledConn, isSSL bool) {
		if !isSSL && conn.Transport.CanWriteEOF() {
			if err := conn.Transport.WriteEOF(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		conn.Transport.Abort()
	}

	for key, entries := range p.aliveByHost {
		for _, e := range entries {
			drain(e.conn, key.IsSSL)
		}
	}
	p.aliveByHost = make(map[ConnectionKey][]idleEntry)

	for key, set := range p.acquiredByHost {
		for conn := range set {
			drain(conn, key.IsSSL)
		}
	}
	p.acquired = make(map[*PooledConn]bool)
	p.acquiredByHost = make(map[ConnectionKey]map[*PooledConn]bool)

	if p.cleanupHandle != nil {
		p.cleanupHandle.Cancel()
		p.cleanupHandle = nil
	}
	if p.cleanupTarget != nil {
		p.cleanupTarget.Clear()
		p.cleanupTarget = nil
	}
	return errs
}
