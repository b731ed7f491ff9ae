package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics using Prometheus
type PrometheusMetrics struct {
	decisionsAllow atomic.Uint64
	decisionsDeny  atomic.Uint64

	decisionsTotal   *prometheus.CounterVec
	decisionErrors   prometheus.Counter
	decisionDuration prometheus.Histogram
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter

	mutationsTotal *prometheus.CounterVec

	loginsTotal   *prometheus.CounterVec
	resolvesTotal *prometheus.CounterVec

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rateLimitedHits *prometheus.CounterVec

	hubPublished   prometheus.Gauge
	hubDropped     prometheus.Gauge
	hubSubscribers prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &PrometheusMetrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions by result",
		}, []string{"result"}),
		decisionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "errors_total",
			Help:      "Authorization checks that could not be evaluated",
		}),
		decisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "duration_seconds",
			Help:      "Authorization decision latency",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of candidate rule cache hits",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of candidate rule cache misses",
		}),
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "mutations_total",
			Help:      "Policy store writes by operation and result",
		}, []string{"op", "result"}),
		loginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		resolvesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "resolves_total",
			Help:      "Session token resolutions by result",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimitedHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"route"}),
		hubPublished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "published_events",
			Help:      "Events published on the notification hub",
		}),
		hubDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_events",
			Help:      "Events dropped because a subscriber buffer was full",
		}),
		hubSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "subscribers",
			Help:      "Active notification hub subscribers",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.decisionErrors,
		m.decisionDuration,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.mutationsTotal,
		m.loginsTotal,
		m.resolvesTotal,
		m.httpRequests,
		m.httpDuration,
		m.rateLimitedHits,
		m.hubPublished,
		m.hubDropped,
		m.hubSubscribers,
	)

	return m
}

// RecordDecision records a completed decision, result is "allow" or "deny"
func (m *PrometheusMetrics) RecordDecision(result string, duration time.Duration) {
	switch result {
	case "allow":
		m.decisionsAllow.Add(1)
	case "deny":
		m.decisionsDeny.Add(1)
	}
	m.decisionsTotal.WithLabelValues(result).Inc()
	m.decisionDuration.Observe(duration.Seconds())
}

// RecordDecisionError records a decision that failed on storage
func (m *PrometheusMetrics) RecordDecisionError() {
	m.decisionErrors.Inc()
}

// RecordCacheHit records a candidate rule cache hit
func (m *PrometheusMetrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}

// RecordCacheMiss records a candidate rule cache miss
func (m *PrometheusMetrics) RecordCacheMiss() {
	m.cacheMissesTotal.Inc()
}

// RecordMutation records a policy store write
func (m *PrometheusMetrics) RecordMutation(op string, result string) {
	m.mutationsTotal.WithLabelValues(op, result).Inc()
}

// RecordLogin records a login attempt
func (m *PrometheusMetrics) RecordLogin(result string) {
	m.loginsTotal.WithLabelValues(result).Inc()
}

// RecordSessionResolve records a token resolution
func (m *PrometheusMetrics) RecordSessionResolve(result string) {
	m.resolvesTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records a served request
func (m *PrometheusMetrics) RecordHTTPRequest(route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordRateLimited records a throttled request
func (m *PrometheusMetrics) RecordRateLimited(route string) {
	m.rateLimitedHits.WithLabelValues(route).Inc()
}

// UpdateHubStats mirrors the notification hub counters
func (m *PrometheusMetrics) UpdateHubStats(published, dropped uint64, subscribers int) {
	m.hubPublished.Set(float64(published))
	m.hubDropped.Set(float64(dropped))
	m.hubSubscribers.Set(float64(subscribers))
}

// Decisions returns the allow and deny totals without touching the registry
func (m *PrometheusMetrics) Decisions() (allow, deny uint64) {
	return m.decisionsAllow.Load(), m.decisionsDeny.Load()
}

// HTTPHandler returns the Prometheus scrape handler
func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}
