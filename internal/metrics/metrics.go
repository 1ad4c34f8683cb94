// Package metrics collects and exposes prometheus metrics for the web
// tier.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric the web tier emits. The registry is injected
// so tests can use a fresh one and assert on it.
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	backendReqs    *prometheus.CounterVec
	backendSeconds prometheus.Histogram
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	realtimeEvents *prometheus.CounterVec
	resubscribes   prometheus.Counter
	analyzeRuns    *prometheus.CounterVec
	liveSessions   prometheus.Gauge
}

// NewCollector registers the web tier's metrics with reg plus the standard
// go runtime and process collectors.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendlens_http_requests_total",
			Help: "HTTP requests served, by route template and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trendlens_http_request_duration_seconds",
			Help:    "HTTP request latency, by route template.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		backendReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendlens_backend_requests_total",
			Help: "Requests made to the trend backend, by operation and status code.",
		}, []string{"op", "code"}),
		backendSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendlens_backend_request_duration_seconds",
			Help:    "Trend backend request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendlens_cache_hits_total",
			Help: "View cache hits, by namespace.",
		}, []string{"namespace"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendlens_cache_misses_total",
			Help: "View cache misses, by namespace.",
		}, []string{"namespace"}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendlens_realtime_events_total",
			Help: "Realtime events by outcome: applied, ignored, or dropped.",
		}, []string{"outcome"}),
		resubscribes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendlens_realtime_resubscribes_total",
			Help: "Times a dropped realtime feed was redialed.",
		}),
		analyzeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendlens_analyze_submissions_total",
			Help: "Analyze submissions, by outcome.",
		}, []string{"outcome"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendlens_sessions_live",
			Help: "Session rows currently stored.",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.backendReqs,
		c.backendSeconds,
		c.cacheHits,
		c.cacheMisses,
		c.realtimeEvents,
		c.resubscribes,
		c.analyzeRuns,
		c.liveSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// RecordHTTP counts one served request.
func (c *Collector) RecordHTTP(route string, code int, d time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordBackend counts one request to the trend backend. A code of zero
// means the request never got an HTTP response.
func (c *Collector) RecordBackend(op string, code int, d time.Duration) {
	c.backendReqs.WithLabelValues(op, strconv.Itoa(code)).Inc()
	c.backendSeconds.Observe(d.Seconds())
}

// RecordCacheHit counts a view cache hit for a namespace.
func (c *Collector) RecordCacheHit(namespace string) {
	c.cacheHits.WithLabelValues(namespace).Inc()
}

// RecordCacheMiss counts a view cache miss for a namespace.
func (c *Collector) RecordCacheMiss(namespace string) {
	c.cacheMisses.WithLabelValues(namespace).Inc()
}

// RecordRealtimeApplied counts a delivered event by whether a view took it.
func (c *Collector) RecordRealtimeApplied(applied bool) {
	outcome := "ignored"
	if applied {
		outcome = "applied"
	}
	c.realtimeEvents.WithLabelValues(outcome).Inc()
}

// RecordAnalyze counts one analyze submission outcome.
func (c *Collector) RecordAnalyze(outcome string) {
	c.analyzeRuns.WithLabelValues(outcome).Inc()
}

// SetLiveSessions records the current session row count.
func (c *Collector) SetLiveSessions(n int) {
	c.liveSessions.Set(float64(n))
}

// RealtimeDelivered implements the relay's metrics hook.
func (c *Collector) RealtimeDelivered() {
	c.realtimeEvents.WithLabelValues("delivered").Inc()
}

// RealtimeDropped implements the relay's metrics hook.
func (c *Collector) RealtimeDropped(reason string) {
	c.realtimeEvents.WithLabelValues("dropped_" + reason).Inc()
}

// RealtimeResubscribed implements the relay's metrics hook.
func (c *Collector) RealtimeResubscribed() {
	c.resubscribes.Inc()
}

// Handler serves the scrape endpoint for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
