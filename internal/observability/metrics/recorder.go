package metrics

// Recorder is the narrow interface the pipeline records through. It lets the
// coordinator run without a Prometheus registry in tests.
type Recorder interface {
	// RunStarted marks a run of modelType as active.
	RunStarted(modelType string)

	// RunFinished records a run's terminal outcome and total duration.
	RunFinished(modelType, outcome string, seconds float64)

	// RecordStage records how long a pipeline stage took and whether it failed.
	RecordStage(modelType, stage, status string, seconds float64)

	// RecordScores records the incumbent and candidate metrics of an evaluation.
	RecordScores(modelType string, oldMetric, newMetric float64)

	// ImageMigrated counts an image moved into the workspace.
	ImageMigrated(modelType string)

	// ImageSkipped counts an image left out of a batch.
	ImageSkipped(modelType, reason string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RunStarted(string)                           {}
func (NopRecorder) RunFinished(string, string, float64)         {}
func (NopRecorder) RecordStage(string, string, string, float64) {}
func (NopRecorder) RecordScores(string, float64, float64)       {}
func (NopRecorder) ImageMigrated(string)                        {}
func (NopRecorder) ImageSkipped(string, string)                 {}
