// Package metrics exposes tally's Prometheus instrumentation.
//
// One Collector instance is created at startup and handed to the components
// that record into it. All methods are nil-safe so tests can pass a nil
// collector and skip metrics wiring entirely.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records tally's operational metrics into a Prometheus registry.
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   prometheus.Histogram
	limiterRejects *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	sessionsIssued prometheus.Counter
	sessionsEnded  prometheus.Counter
	rotationLost   prometheus.Counter
	reapedSessions prometheus.Counter
	wsClients      prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_http_requests_total",
			Help: "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tally_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		limiterRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_ratelimit_rejections_total",
			Help: "Requests rejected by a rate limiter, by limiter name.",
		}, []string{"limiter"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_session_cache_hits_total",
			Help: "Session validity cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_session_cache_misses_total",
			Help: "Session validity cache misses.",
		}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_sessions_issued_total",
			Help: "Sessions created by register, login, or refresh.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_sessions_revoked_total",
			Help: "Session rows removed by logout or rotation.",
		}),
		rotationLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_refresh_rotation_conflicts_total",
			Help: "Refresh rotations that lost the race or replayed a rotated token.",
		}),
		reapedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_sessions_reaped_total",
			Help: "Expired session rows deleted by the background reaper.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tally_events_clients",
			Help: "Currently connected events-feed clients.",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.limiterRejects,
		c.cacheHits,
		c.cacheMisses,
		c.sessionsIssued,
		c.sessionsEnded,
		c.rotationLost,
		c.reapedSessions,
		c.wsClients,
	)

	return c
}

// RecordHTTPRequest records one completed request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.Observe(d.Seconds())
}

// RecordRateLimitRejection records a 429 issued by the named limiter.
func (c *Collector) RecordRateLimitRejection(limiter string) {
	if c == nil {
		return
	}
	c.limiterRejects.WithLabelValues(limiter).Inc()
}

// RecordCacheHit records a session validity cache hit.
func (c *Collector) RecordCacheHit() {
	if c == nil {
		return
	}
	c.cacheHits.Inc()
}

// RecordCacheMiss records a session validity cache miss.
func (c *Collector) RecordCacheMiss() {
	if c == nil {
		return
	}
	c.cacheMisses.Inc()
}

// RecordSessionIssued records one freshly issued session.
func (c *Collector) RecordSessionIssued() {
	if c == nil {
		return
	}
	c.sessionsIssued.Inc()
}

// RecordSessionsRevoked records n session rows removed.
func (c *Collector) RecordSessionsRevoked(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.sessionsEnded.Add(float64(n))
}

// RecordRotationConflict records a refresh rotation that found its token
// already rotated or revoked.
func (c *Collector) RecordRotationConflict() {
	if c == nil {
		return
	}
	c.rotationLost.Inc()
}

// RecordReapedSessions records expired rows deleted by the reaper.
func (c *Collector) RecordReapedSessions(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.reapedSessions.Add(float64(n))
}

// EventsClientConnected bumps the connected-clients gauge.
func (c *Collector) EventsClientConnected() {
	if c == nil {
		return
	}
	c.wsClients.Inc()
}

// EventsClientDisconnected drops the connected-clients gauge.
func (c *Collector) EventsClientDisconnected() {
	if c == nil {
		return
	}
	c.wsClients.Dec()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
