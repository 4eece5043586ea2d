package training

import (
	"fmt"

	"github.com/xgstriker/bbd-server/internal/errors"
)

// Error kinds of the training pipeline. Every error returned or recorded by
// this package wraps exactly one of them.
var (
	// ErrConfiguration is returned by Start for unknown model types, before any side effect.
	ErrConfiguration = errors.NewStd("configuration error")
	// ErrAlreadyRunning is returned by Start while a run of the same type is active.
	ErrAlreadyRunning = errors.NewStd("training already running")
	// ErrPartialIngestion marks an image skipped during migration. Non-fatal.
	ErrPartialIngestion = errors.NewStd("partial ingestion")
	// ErrTrainingFailed is recorded when the trainer fails.
	ErrTrainingFailed = errors.NewStd("training failed")
	// ErrEvaluationFailed is recorded when the evaluator fails or the manifest drifts.
	ErrEvaluationFailed = errors.NewStd("evaluation failed")
)

// stageError wraps cause with a pipeline error kind and category.
func stageError(kind error, category errors.ErrorCategory, modelType string, cause error) error {
	return errors.New(fmt.Errorf("%w: %w", kind, cause)).
		Component("training").
		Category(category).
		Context("model_type", modelType).
		Build()
}
