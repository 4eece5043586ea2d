// Package metrics provides Prometheus collectors for the training pipeline,
// the HTTP API and outcome notifications.
package metrics

// Pipeline stages, used as the "stage" label.
const (
	StageBackup   = "backup"
	StageAssemble = "assemble"
	StageTrain    = "train"
	StageEvaluate = "evaluate"
	StagePromote  = "promote"
	StageArchive  = "archive"
	StageCleanup  = "cleanup"
)

// Histogram bucket parameters.
const (
	// 1s to ~9h, training runs are long.
	BucketStart1s  = 1.0
	BucketFactor2  = 2.0
	BucketCount16  = 16
	BucketStart1ms = 0.001
	BucketCount12  = 12
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
