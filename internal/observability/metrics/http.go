package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for API requests.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	registry        *prometheus.Registry
}

// NewHTTPMetrics creates and registers the HTTP metrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bbd_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status_code"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bbd_http_request_duration_seconds",
		Help:    "Time taken for HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bbd_http_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"path"})
}

// RecordRequest records a completed request. path is the route template,
// not the raw URL, to keep cardinality bounded.
func (m *HTTPMetrics) RecordRequest(method, path string, statusCode int, seconds float64) {
	m.requestsTotal.WithLabelValues(method, path, fmt.Sprint(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *HTTPMetrics) RecordRateLimited(path string) {
	m.rateLimited.WithLabelValues(path).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.rateLimited.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.rateLimited.Collect(ch)
}
