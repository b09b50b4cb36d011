// Package connector implements the per-host connection pool, DNS cache,
// and proxy tunneling used by the HTTP client (spec §3 "Connector pool",
// §4.11).
package connector

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/loopwire/loopwire/control"
	"github.com/loopwire/loopwire/internal/loop"
	"github.com/loopwire/loopwire/protoerr"
)

// HostInfo is one resolved address candidate for a host.
type HostInfo struct {
	IP   net.IP
	Port int
}

// HostInfoContainer caches a host's resolved addresses with a creation
// timestamp and a round-robin rotation cursor (spec §3).
type HostInfoContainer struct {
	entries       []HostInfo
	rotationIndex int
	timestamp     float64
}

// Expired reports whether ttl seconds have elapsed since resolution
// (spec §6 DNS_CACHE_TIMEOUT = 10s, §8.6).
func (c *HostInfoContainer) Expired(ttl time.Duration) bool {
	return loop.Time()-c.timestamp > ttl.Seconds()
}

// NextAddresses returns the cached entries rotated by rotationIndex,
// advancing it for the next call (spec §4.11 "round-robin across
// calls").
func (c *HostInfoContainer) NextAddresses() []HostInfo {
	n := len(c.entries)
	if n == 0 {
		return nil
	}
	out := make([]HostInfo, n)
	for i := 0; i < n; i++ {
		out[i] = c.entries[(c.rotationIndex+i)%n]
	}
	c.rotationIndex = (c.rotationIndex + 1) % n
	return out
}

type dnsCacheKey struct {
	host string
	port int
}

// Resolver caches DNS lookups per (host, port), de-duplicates concurrent
// lookups for the same key via singleflight, and paces background
// refreshes with a token bucket (SPEC_FULL.md §3 DOMAIN STACK: x/sync
// singleflight, x/time/rate).
type Resolver struct {
	ttl     time.Duration
	group   singleflight.Group
	limiter *rate.Limiter
	metrics *control.Metrics

	mu    chanMutex
	cache map[dnsCacheKey]*HostInfoContainer
}

// chanMutex is a trivial channel-backed mutex, matching the teacher's
// preference for channel-based synchronization over sync.Mutex in its
// concurrency helpers.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

// NewResolver returns a resolver with the given cache TTL and a refresh
// rate limit of refreshesPerSecond background lookups per second.
func NewResolver(ttl time.Duration, refreshesPerSecond float64, metrics *control.Metrics) *Resolver {
	return &Resolver{
		ttl:     ttl,
		limiter: rate.NewLimiter(rate.Limit(refreshesPerSecond), 1),
		metrics: metrics,
		mu:      newChanMutex(),
		cache:   make(map[dnsCacheKey]*HostInfoContainer),
	}
}

// ResolveHostIterator yields address candidates for host:port following
// spec §4.11 resolve_host_iterator: a literal IP short-circuits; a
// fresh cache hit returns rotated cached entries; an expired entry
// triggers a background refresh (detached from the caller's own
// cancellation) and returns only the stale entries, so addresses found by
// the refresh are served on later calls once cached; a cold key blocks on
// a de-duplicated lookup.
func (r *Resolver) ResolveHostIterator(ctx context.Context, host string, port int) ([]HostInfo, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []HostInfo{{IP: ip, Port: port}}, nil
	}

	key := dnsCacheKey{host: host, port: port}
	r.mu.Lock()
	entry, ok := r.cache[key]
	r.mu.Unlock()

	if ok && !entry.Expired(r.ttl) {
		if r.metrics != nil {
			r.metrics.DNSCacheHits.Inc()
		}
		return entry.NextAddresses(), nil
	}

	if ok {
		if r.limiter.Allow() {
			go r.refresh(context.Background(), host, port)
		}
		if r.metrics != nil {
			r.metrics.DNSCacheMisses.Inc()
		}
		return entry.NextAddresses(), nil
	}

	if r.metrics != nil {
		r.metrics.DNSCacheMisses.Inc()
	}
	return r.lookupAndCache(ctx, host, port)
}

// refresh retries the background lookup a bounded number of times with
// exponential backoff before giving up silently — a failed refresh just
// leaves the stale entry in place for the next ResolveHostIterator call.
func (r *Resolver) refresh(ctx context.Context, host string, port int) {
	_ = backoff.Retry(func() error {
		_, err := r.lookupAndCache(ctx, host, port)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx))
}

func (r *Resolver) lookupAndCache(ctx context.Context, host string, port int) ([]HostInfo, error) {
	key := dnsCacheKey{host: host, port: port}
	v, err, _ := r.group.Do(net.JoinHostPort(host, strconv.Itoa(port)), func() (any, error) {
		addrs, lookupErr := net.DefaultResolver.LookupIPAddr(ctx, host)
		if lookupErr != nil {
			return nil, protoerr.Connection("dns lookup failed", key, lookupErr)
		}
		entries := make([]HostInfo, len(addrs))
		for i, a := range addrs {
			entries[i] = HostInfo{IP: a.IP, Port: port}
		}
		return entries, nil
	})
	if err != nil {
		// DNS failures are not negative-cached (SPEC_FULL.md §6 Open
		// Question #4) — every failed attempt re-resolves next time.
		return nil, err
	}
	entries := v.([]HostInfo)
	container := &HostInfoContainer{entries: entries, timestamp: loop.Time()}
	r.mu.Lock()
	r.cache[key] = container
	r.mu.Unlock()
	return container.NextAddresses(), nil
}
