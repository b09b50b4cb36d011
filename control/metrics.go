// Package control exposes prometheus metrics for the event loop and
// connection pool, replacing the teacher's placeholder tracer/control
// stubs with real instrumentation (SPEC_FULL.md §3 DOMAIN STACK).
package control

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every gauge/counter the runtime exports. Callers
// construct one per process and pass it down to the event loop and
// connector.
type Metrics struct {
	TickDuration     prometheus.Histogram
	ReadyQueueLength prometheus.Gauge
	TimersPending    prometheus.Gauge
	TasksCreated     prometheus.Counter
	TasksCompleted   prometheus.Counter

	PoolIdleConnections     *prometheus.GaugeVec
	PoolAcquiredConnections *prometheus.GaugeVec
	PoolConnectionsCreated  prometheus.Counter
	PoolConnectionsClosed   prometheus.Counter
	DNSCacheHits            prometheus.Counter
	DNSCacheMisses          prometheus.Counter
}

// NewMetrics registers every collector against reg and returns the
// bundle. Pass prometheus.NewRegistry() in tests to avoid colliding with
// the global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "loopwire",
			Subsystem: "eventloop",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one Run() iteration: timer dispatch, poll, ready-queue drain.",
		}),
		ReadyQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loopwire", Subsystem: "eventloop", Name: "ready_queue_length",
			Help: "Handles currently queued for the next ready-queue drain.",
		}),
		TimersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loopwire", Subsystem: "eventloop", Name: "timers_pending",
			Help: "Timer handles currently in the min-heap.",
		}),
		TasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopwire", Subsystem: "eventloop", Name: "tasks_created_total",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopwire", Subsystem: "eventloop", Name: "tasks_completed_total",
		}),
		PoolIdleConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loopwire", Subsystem: "connector", Name: "idle_connections",
		}, []string{"host"}),
		PoolAcquiredConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loopwire", Subsystem: "connector", Name: "acquired_connections",
		}, []string{"host"}),
		PoolConnectionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopwire", Subsystem: "connector", Name: "connections_created_total",
		}),
		PoolConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopwire", Subsystem: "connector", Name: "connections_closed_total",
		}),
		DNSCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopwire", Subsystem: "connector", Name: "dns_cache_hits_total",
		}),
		DNSCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopwire", Subsystem: "connector", Name: "dns_cache_misses_total",
		}),
	}

	reg.MustRegister(
		m.TickDuration, m.ReadyQueueLength, m.TimersPending, m.TasksCreated, m.TasksCompleted,
		m.PoolIdleConnections, m.PoolAcquiredConnections, m.PoolConnectionsCreated,
		m.PoolConnectionsClosed, m.DNSCacheHits, m.DNSCacheMisses,
	)
	return m
}
