// Package observability wires the Prometheus collectors of the service into a
// single registry and exposes it over HTTP.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry     *prometheus.Registry
	Training     *metrics.TrainingMetrics
	HTTP         *metrics.HTTPMetrics
	Notification *metrics.NotificationMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// Each call uses its own registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	trainingMetrics, err := metrics.NewTrainingMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create training metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	notificationMetrics, err := metrics.NewNotificationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification metrics: %w", err)
	}

	return &Metrics{
		registry:     registry,
		Training:     trainingMetrics,
		HTTP:         httpMetrics,
		Notification: notificationMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{log: GetLogger()},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promLogger adapts the module logger to promhttp.Logger.
type promLogger struct {
	log logger.Logger
}

func (p promLogger) Println(v ...any) {
	p.log.Error("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}

// GetLogger returns the observability package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
