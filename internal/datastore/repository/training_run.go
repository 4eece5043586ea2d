package repository

import (
	"context"

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
)

// TrainingRunRepository provides access to the training_runs audit table.
type TrainingRunRepository interface {
	// Create inserts a new run.
	Create(ctx context.Context, run *entities.TrainingRun) error

	// Save persists every field of an existing run.
	Save(ctx context.Context, run *entities.TrainingRun) error

	// GetByRunName returns a run by its unique name.
	// Returns ErrRunNotFound if not found.
	GetByRunName(ctx context.Context, runName string) (*entities.TrainingRun, error)

	// ListByType returns the most recent runs for a model type, newest first.
	ListByType(ctx context.Context, modelType string, limit int) ([]*entities.TrainingRun, error)

	// MarkInterrupted finishes every pending run as failed. Used at startup
	// to close rows left behind by a crashed process.
	MarkInterrupted(ctx context.Context, message string) (int64, error)
}
