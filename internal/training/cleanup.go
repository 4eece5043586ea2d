package training

import (
	"context"
	"os"

	"gorm.io/gorm"

	"github.com/xgstriker/bbd-server/internal/datastore/repository"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

// Cleanup removes what a decided run consumed.
type Cleanup struct {
	db     *gorm.DB
	images repository.ImageRepository
	layout workspace.Layout
	log    logger.Logger
}

// NewCleanup creates a Cleanup. db must be a connection independent of any request.
func NewCleanup(db *gorm.DB, images repository.ImageRepository, layout workspace.Layout) *Cleanup {
	return &Cleanup{
		db:     db,
		images: images,
		layout: layout,
		log:    GetLogger().Module("cleanup"),
	}
}

// Run deletes the links, objects and image rows of imageIDs in one
// transaction and, only after it commits, wipes the type workspace. A crash
// between the two leaves orphaned files, never rows pointing at missing files.
func (c *Cleanup) Run(ctx context.Context, modelType string, imageIDs []uint) (repository.DeleteResult, error) {
	var result repository.DeleteResult
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = c.images.DeleteConsumed(ctx, tx, imageIDs)
		return err
	})
	if err != nil {
		return repository.DeleteResult{}, errors.New(err).
			Component("training").
			Category(errors.CategoryDatabase).
			Context("model_type", modelType).
			Context("images", len(imageIDs)).
			Build()
	}

	if err := os.RemoveAll(c.layout.TypeDir(modelType)); err != nil {
		return result, errors.New(err).
			Component("training").
			Category(errors.CategoryFileIO).
			Context("model_type", modelType).
			Build()
	}

	c.log.Info("consumed data removed",
		logger.String("model_type", modelType),
		logger.Int64("images", result.Images),
		logger.Int64("objects", result.Objects),
		logger.Int64("links", result.Links))
	return result, nil
}
