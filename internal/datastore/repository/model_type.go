package repository

import (
	"context"

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
)

// ModelTypeRepository provides access to the types table.
type ModelTypeRepository interface {
	// Resolve returns the model type with the given title.
	// Returns ErrTypeNotFound if not found.
	Resolve(ctx context.Context, title string) (*entities.ModelType, error)

	// GetAll returns all model types ordered by title.
	GetAll(ctx context.Context) ([]*entities.ModelType, error)
}
