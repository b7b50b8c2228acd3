// Package metrics wraps a Prometheus registry with the connector's metrics.
// Every method tolerates a nil receiver so instrumentation call sites stay
// unconditional in components built without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a Prometheus registry with hawser-specific metrics.
type Registry struct {
	registry *prometheus.Registry

	// Acquire path
	acquiresTotal   *prometheus.CounterVec
	acquireQueued   prometheus.Counter
	acquireWaiters  prometheus.Gauge
	acquiredConns   prometheus.Gauge
	idleConns       prometheus.Gauge
	connClosedTotal *prometheus.CounterVec

	// Dial path
	dialsTotal      *prometheus.CounterVec
	dialDuration    prometheus.Histogram
	dialErrorsTotal *prometheus.CounterVec

	// DNS
	dnsCacheTotal   *prometheus.CounterVec
	dnsLookupsTotal prometheus.Counter
}

// NewRegistry creates a registry with all connector metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,

		acquiresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hawser_acquires_total",
				Help: "Total number of connection acquisitions",
			},
			[]string{"mode"},
		),
		acquireQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hawser_acquire_queued_total",
				Help: "Total number of acquisitions that had to wait for a slot",
			},
		),
		acquireWaiters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hawser_acquire_waiters",
				Help: "Number of acquisitions currently waiting for a slot",
			},
		),
		acquiredConns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hawser_acquired_connections",
				Help: "Number of connections currently leased out",
			},
		),
		idleConns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hawser_idle_connections",
				Help: "Number of idle keep-alive connections in the pool",
			},
		),
		connClosedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hawser_connections_closed_total",
				Help: "Total number of pooled connections closed",
			},
			[]string{"reason"},
		),

		dialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hawser_dials_total",
				Help: "Total number of dial attempts",
			},
			[]string{"kind"},
		),
		dialDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hawser_dial_duration_seconds",
				Help:    "Time to establish a connection, including TLS",
				Buckets: prometheus.DefBuckets,
			},
		),
		dialErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hawser_dial_errors_total",
				Help: "Total number of failed dials",
			},
			[]string{"kind"},
		),

		dnsCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hawser_dns_cache_total",
				Help: "DNS cache lookups by result",
			},
			[]string{"result"},
		),
		dnsLookupsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hawser_dns_lookups_total",
				Help: "Total number of resolver invocations",
			},
		),
	}

	reg.MustRegister(
		r.acquiresTotal,
		r.acquireQueued,
		r.acquireWaiters,
		r.acquiredConns,
		r.idleConns,
		r.connClosedTotal,
		r.dialsTotal,
		r.dialDuration,
		r.dialErrorsTotal,
		r.dnsCacheTotal,
		r.dnsLookupsTotal,
	)

	return r
}

// Prometheus exposes the underlying registry for promhttp.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// AcquireReused records an acquisition served from the idle list.
func (r *Registry) AcquireReused() {
	if r == nil {
		return
	}
	r.acquiresTotal.WithLabelValues("reused").Inc()
}

// AcquireCreated records an acquisition served by a fresh dial.
func (r *Registry) AcquireCreated() {
	if r == nil {
		return
	}
	r.acquiresTotal.WithLabelValues("created").Inc()
}

// AcquireQueued records an acquisition entering the wait queue.
func (r *Registry) AcquireQueued() {
	if r == nil {
		return
	}
	r.acquireQueued.Inc()
	r.acquireWaiters.Inc()
}

// AcquireDequeued records a waiter leaving the queue.
func (r *Registry) AcquireDequeued() {
	if r == nil {
		return
	}
	r.acquireWaiters.Dec()
}

// SetAcquired updates the leased-connection gauge.
func (r *Registry) SetAcquired(n int) {
	if r == nil {
		return
	}
	r.acquiredConns.Set(float64(n))
}

// SetIdle updates the idle-connection gauge.
func (r *Registry) SetIdle(n int) {
	if r == nil {
		return
	}
	r.idleConns.Set(float64(n))
}

// ConnClosed records a pooled connection being closed for the given reason
// ("expired", "disconnected", "discarded" or "shutdown").
func (r *Registry) ConnClosed(reason string) {
	if r == nil {
		return
	}
	r.connClosedTotal.WithLabelValues(reason).Inc()
}

// DialStarted records a dial attempt of the given kind ("tcp", "proxy",
// "unix" or "pipe").
func (r *Registry) DialStarted(kind string) {
	if r == nil {
		return
	}
	r.dialsTotal.WithLabelValues(kind).Inc()
}

// DialSucceeded records the latency of a successful dial.
func (r *Registry) DialSucceeded(seconds float64) {
	if r == nil {
		return
	}
	r.dialDuration.Observe(seconds)
}

// DialFailed records a failed dial of the given kind.
func (r *Registry) DialFailed(kind string) {
	if r == nil {
		return
	}
	r.dialErrorsTotal.WithLabelValues(kind).Inc()
}

// DNSCacheHit records a resolution served from the cache or a coalesced
// lookup.
func (r *Registry) DNSCacheHit() {
	if r == nil {
		return
	}
	r.dnsCacheTotal.WithLabelValues("hit").Inc()
}

// DNSCacheMiss records a resolution that had to invoke the resolver.
func (r *Registry) DNSCacheMiss() {
	if r == nil {
		return
	}
	r.dnsCacheTotal.WithLabelValues("miss").Inc()
}

// DNSLookup records a resolver invocation.
func (r *Registry) DNSLookup() {
	if r == nil {
		return
	}
	r.dnsLookupsTotal.Inc()
}
