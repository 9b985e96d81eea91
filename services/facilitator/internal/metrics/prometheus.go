// Package metrics exposes Prometheus instrumentation for the facilitator.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the facilitator.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	verifyTotal     *prometheus.CounterVec
	settleTotal     *prometheus.CounterVec
	activeRequests  prometheus.Gauge
}

// New creates metrics registered against a dedicated registry, keeping
// tests that construct multiple servers free of duplicate-registration
// panics. The registry is served by Handler.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		verifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_verify_total",
				Help: "Total number of verify requests",
			},
			[]string{"network", "scheme", "result"},
		),
		settleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_settle_total",
				Help: "Total number of settle requests",
			},
			[]string{"network", "scheme", "result"},
		),
		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "facilitator_active_requests",
				Help: "Number of currently active requests",
			},
		),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.verifyTotal,
		m.settleTotal,
		m.activeRequests,
	)

	return m
}

// Middleware returns a Gin middleware that records request metrics.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.activeRequests.Inc()

		c.Next()

		m.activeRequests.Dec()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.requestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, c.FullPath()).Observe(duration)
	}
}

// RecordVerify records a verify result.
func (m *Metrics) RecordVerify(network, scheme string, success bool) {
	m.verifyTotal.WithLabelValues(network, scheme, result(success)).Inc()
}

// RecordSettle records a settle result.
func (m *Metrics) RecordSettle(network, scheme string, success bool) {
	m.settleTotal.WithLabelValues(network, scheme, result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler returns the scrape handler for this metrics registry.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
