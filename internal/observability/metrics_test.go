package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/observability/metrics"
)

// gatherValue returns the value of the first sample of name whose labels match.
func gatherValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !labelsMatch(metric, labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if want != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.Training)
			assert.NotNil(t, m.HTTP)
			assert.NotNil(t, m.Notification)
		})
	}
	wg.Wait()
}

func TestTrainingMetricsRecordRun(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	var rec metrics.Recorder = m.Training
	rec.RunStarted("Object")
	assert.Equal(t, 1.0, gatherValue(t, m, "bbd_training_active_runs", map[string]string{"model_type": "Object"}))

	rec.ImageMigrated("Object")
	rec.ImageMigrated("Object")
	rec.ImageSkipped("Object", "source_missing")
	rec.RecordStage("Object", metrics.StageTrain, metrics.StatusError, 2.5)
	rec.RecordScores("Object", 0.80, 0.82)
	rec.RunFinished("Object", "promoted", 30)

	assert.Equal(t, 0.0, gatherValue(t, m, "bbd_training_active_runs", map[string]string{"model_type": "Object"}))
	assert.Equal(t, 1.0, gatherValue(t, m, "bbd_training_runs_total", map[string]string{"model_type": "Object", "outcome": "promoted"}))
	assert.Equal(t, 2.0, gatherValue(t, m, "bbd_dataset_images_migrated_total", map[string]string{"model_type": "Object"}))
	assert.Equal(t, 1.0, gatherValue(t, m, "bbd_dataset_images_skipped_total", map[string]string{"reason": "source_missing"}))
	assert.Equal(t, 1.0, gatherValue(t, m, "bbd_training_stage_errors_total", map[string]string{"stage": "train"}))
	assert.InDelta(t, 0.82, gatherValue(t, m, "bbd_evaluation_score", map[string]string{"weights": "new"}), 1e-9)
}

func TestNotificationMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Notification.ObservePublish("mqtt", time.Now(), nil)
	m.Notification.ObservePublish("mqtt", time.Now(), errors.NewStd("broker down"))
	m.Notification.UpdateConnectionStatus(true)

	assert.Equal(t, 1.0, gatherValue(t, m, "bbd_notifications_delivered_total", map[string]string{"channel": "mqtt"}))
	assert.Equal(t, 1.0, gatherValue(t, m, "bbd_notification_errors_total", map[string]string{"channel": "mqtt"}))
	assert.Equal(t, 1.0, gatherValue(t, m, "bbd_mqtt_connection_status", nil))
}

func TestHandlerServesMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.HTTP.RecordRequest(http.MethodGet, "/api/v1/training/:type/status", http.StatusOK, 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bbd_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
