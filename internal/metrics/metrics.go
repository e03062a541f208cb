package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the proxy.
// Instruments are named for the raw-socket session lifecycle rather than
// per-HTTP-request middleware: there is one session per accepted
// connection, and one cache lookup/fetch per request within it.
type Metrics struct {
	sessionsTotal        prometheus.Counter
	sessionsActive       prometheus.Gauge
	cacheHitsTotal       prometheus.Counter
	cacheMissesTotal     prometheus.Counter
	cacheBytesUsed       prometheus.Gauge
	cacheEvictionsTotal  prometheus.Counter
	fetchDuration        prometheus.Histogram
	admissionWaitSeconds prometheus.Histogram
	ratelimitRejections  prometheus.Counter
}

// NewMetrics creates new metrics collector with Prometheus instruments
// Registers all metrics with default registry for HTTP exposition
func NewMetrics() *Metrics {
	m := &Metrics{
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_sessions_total",
			Help: "Total number of client connections that passed the rate limiter",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_sessions_active",
			Help: "Number of sessions currently waiting at or admitted past the gate",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_cache_hits_total",
			Help: "Total number of cache lookups that found an entry",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_cache_misses_total",
			Help: "Total number of cache lookups that found nothing",
		}),
		cacheBytesUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_cache_bytes_used",
			Help: "Current total bytes held by the response cache",
		}),
		cacheEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_cache_evictions_total",
			Help: "Total number of entries evicted to make room for new ones",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proxy_fetch_duration_seconds",
			Help:    "Time spent forwarding a request and draining the origin response",
			Buckets: prometheus.DefBuckets,
		}),
		admissionWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proxy_admission_wait_seconds",
			Help:    "Time a session spent waiting for an admission gate slot",
			Buckets: prometheus.DefBuckets,
		}),
		ratelimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_ratelimit_rejections_total",
			Help: "Total number of connections rejected by the per-client rate limiter",
		}),
	}

	prometheus.MustRegister(
		m.sessionsTotal,
		m.sessionsActive,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.cacheBytesUsed,
		m.cacheEvictionsTotal,
		m.fetchDuration,
		m.admissionWaitSeconds,
		m.ratelimitRejections,
	)

	return m
}

// SessionStarted records an accepted connection entering the admission gate.
func (m *Metrics) SessionStarted() {
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

// SessionEnded records a session leaving the gate, successfully or not.
func (m *Metrics) SessionEnded() {
	m.sessionsActive.Dec()
}

// RecordCacheHit increments the cache hit counter.
func (m *Metrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMissesTotal.Inc()
}

// RecordCacheEviction increments the eviction counter, called from the
// cache's onEvict callback.
func (m *Metrics) RecordCacheEviction() {
	m.cacheEvictionsTotal.Inc()
}

// SetCacheBytesUsed publishes the cache's current byte usage.
func (m *Metrics) SetCacheBytesUsed(bytes int64) {
	m.cacheBytesUsed.Set(float64(bytes))
}

// RecordFetchDuration records how long a single origin fetch took.
func (m *Metrics) RecordFetchDuration(d time.Duration) {
	m.fetchDuration.Observe(d.Seconds())
}

// RecordAdmissionWait records how long a session waited for a gate slot.
func (m *Metrics) RecordAdmissionWait(d time.Duration) {
	m.admissionWaitSeconds.Observe(d.Seconds())
}

// RecordRateLimitRejection increments the rate-limit rejection counter.
func (m *Metrics) RecordRateLimitRejection() {
	m.ratelimitRejections.Inc()
}

// Handler returns HTTP handler for Prometheus metrics exposition, served
// on a loopback-only metrics listener rather than the proxy's public
// raw-socket port.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
