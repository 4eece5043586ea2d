package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics contains Prometheus metrics for outcome notifications.
type NotificationMetrics struct {
	Delivered      *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
	MQTTConnected  prometheus.Gauge
	registry       *prometheus.Registry
}

// NewNotificationMetrics creates and registers the notification metrics.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.Delivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bbd_notifications_delivered_total",
		Help: "Notifications delivered per channel",
	}, []string{"channel"})

	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bbd_notification_errors_total",
		Help: "Notification delivery failures per channel",
	}, []string{"channel"})

	m.PublishLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bbd_notification_publish_latency_seconds",
		Help:    "Latency of notification publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	}, []string{"channel"})

	m.MQTTConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bbd_mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})
}

// UpdateConnectionStatus records whether the MQTT client is connected.
func (m *NotificationMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.MQTTConnected.Set(1)
	} else {
		m.MQTTConnected.Set(0)
	}
}

// ObservePublish records one delivery attempt on channel.
func (m *NotificationMetrics) ObservePublish(channel string, started time.Time, err error) {
	m.PublishLatency.WithLabelValues(channel).Observe(time.Since(started).Seconds())
	if err != nil {
		m.Errors.WithLabelValues(channel).Inc()
		return
	}
	m.Delivered.WithLabelValues(channel).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Delivered.Describe(ch)
	m.Errors.Describe(ch)
	m.PublishLatency.Describe(ch)
	ch <- m.MQTTConnected.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Delivered.Collect(ch)
	m.Errors.Collect(ch)
	m.PublishLatency.Collect(ch)
	ch <- m.MQTTConnected
}
