package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// TrainingMetrics contains all Prometheus metrics of the training pipeline.
type TrainingMetrics struct {
	ActiveRuns     *prometheus.GaugeVec
	RunsTotal      *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	StageDuration  *prometheus.HistogramVec
	StageErrors    *prometheus.CounterVec
	ImagesMigrated *prometheus.CounterVec
	ImagesSkipped  *prometheus.CounterVec
	Score          *prometheus.GaugeVec
	registry       *prometheus.Registry
}

// NewTrainingMetrics creates and registers the training metrics.
func NewTrainingMetrics(registry *prometheus.Registry) (*TrainingMetrics, error) {
	m := &TrainingMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register training metrics: %w", err)
	}
	return m, nil
}

func (m *TrainingMetrics) initMetrics() {
	m.ActiveRuns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bbd_training_active_runs",
		Help: "Training runs currently in progress (0 or 1 per model type)",
	}, []string{"model_type"})

	m.RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bbd_training_runs_total",
		Help: "Finished training runs by outcome",
	}, []string{"model_type", "outcome"})

	m.RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bbd_training_run_duration_seconds",
		Help:    "Wall time of a training run from start to outcome",
		Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount16),
	}, []string{"model_type"})

	m.StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bbd_training_stage_duration_seconds",
		Help:    "Wall time of each pipeline stage",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, 4, BucketCount12),
	}, []string{"model_type", "stage"})

	m.StageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bbd_training_stage_errors_total",
		Help: "Pipeline stage failures",
	}, []string{"model_type", "stage"})

	m.ImagesMigrated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bbd_dataset_images_migrated_total",
		Help: "Images moved into a training workspace",
	}, []string{"model_type"})

	m.ImagesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bbd_dataset_images_skipped_total",
		Help: "Images skipped during migration",
	}, []string{"model_type", "reason"})

	m.Score = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bbd_evaluation_score",
		Help: "Last evaluation metric of the incumbent (old) and candidate (new) weights",
	}, []string{"model_type", "weights"})
}

// RunStarted implements Recorder.
func (m *TrainingMetrics) RunStarted(modelType string) {
	m.ActiveRuns.WithLabelValues(modelType).Set(1)
}

// RunFinished implements Recorder.
func (m *TrainingMetrics) RunFinished(modelType, outcome string, seconds float64) {
	m.ActiveRuns.WithLabelValues(modelType).Set(0)
	m.RunsTotal.WithLabelValues(modelType, outcome).Inc()
	m.RunDuration.WithLabelValues(modelType).Observe(seconds)
}

// RecordStage implements Recorder.
func (m *TrainingMetrics) RecordStage(modelType, stage, status string, seconds float64) {
	m.StageDuration.WithLabelValues(modelType, stage).Observe(seconds)
	if status == StatusError {
		m.StageErrors.WithLabelValues(modelType, stage).Inc()
	}
}

// RecordScores implements Recorder.
func (m *TrainingMetrics) RecordScores(modelType string, oldMetric, newMetric float64) {
	m.Score.WithLabelValues(modelType, "old").Set(oldMetric)
	m.Score.WithLabelValues(modelType, "new").Set(newMetric)
}

// ImageMigrated implements Recorder.
func (m *TrainingMetrics) ImageMigrated(modelType string) {
	m.ImagesMigrated.WithLabelValues(modelType).Inc()
}

// ImageSkipped implements Recorder.
func (m *TrainingMetrics) ImageSkipped(modelType, reason string) {
	m.ImagesSkipped.WithLabelValues(modelType, reason).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *TrainingMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ActiveRuns.Describe(ch)
	m.RunsTotal.Describe(ch)
	m.RunDuration.Describe(ch)
	m.StageDuration.Describe(ch)
	m.StageErrors.Describe(ch)
	m.ImagesMigrated.Describe(ch)
	m.ImagesSkipped.Describe(ch)
	m.Score.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *TrainingMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ActiveRuns.Collect(ch)
	m.RunsTotal.Collect(ch)
	m.RunDuration.Collect(ch)
	m.StageDuration.Collect(ch)
	m.StageErrors.Collect(ch)
	m.ImagesMigrated.Collect(ch)
	m.ImagesSkipped.Collect(ch)
	m.Score.Collect(ch)
}
