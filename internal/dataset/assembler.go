// Package dataset turns ready-for-training images into a YOLO style dataset
// inside the per-type workspace.
//
// The Assembler runs four steps in order: Claim selects ready images, Migrate
// moves their files into the workspace, Labelize writes one label file per
// image and BuildManifest describes the result for the trainer and evaluator.
package dataset

import (
	"context"
	"fmt"

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/datastore/repository"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/model"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

// ClassSource returns the currently deployed model of a type.
type ClassSource interface {
	Current(ctx context.Context, modelType string) (*model.Handle, error)
}

// Observer receives per-image migration outcomes. It may be nil.
type Observer interface {
	ImageMigrated(modelType string)
	ImageSkipped(modelType, reason string)
}

// Config holds Assembler settings.
type Config struct {
	// BaseDir resolves relative image paths stored in the database.
	BaseDir string
	// MinFreeBytes is the free space required in the workspace before migrating.
	MinFreeBytes uint64
}

// Assembler builds training datasets from the relational store.
type Assembler struct {
	types    repository.ModelTypeRepository
	images   repository.ImageRepository
	classes  ClassSource
	layout   workspace.Layout
	config   Config
	observer Observer
	log      logger.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(types repository.ModelTypeRepository, images repository.ImageRepository,
	classes ClassSource, layout workspace.Layout, config Config, observer Observer) *Assembler {
	return &Assembler{
		types:    types,
		images:   images,
		classes:  classes,
		layout:   layout,
		config:   config,
		observer: observer,
		log:      GetLogger(),
	}
}

// Dataset is the result of a full assembly.
type Dataset struct {
	ModelType string
	// ImageIDs are the images that made it into the workspace, in claim order.
	ImageIDs []uint
	Skipped  []Skipped
	Classes  ClassMap
	Manifest *Manifest
}

// Assemble runs Claim, Migrate, Labelize and BuildManifest. A dataset with no
// labeled images is returned without a manifest.
func (a *Assembler) Assemble(ctx context.Context, modelType string) (*Dataset, error) {
	claims, err := a.Claim(ctx, modelType)
	if err != nil {
		return nil, err
	}

	migrated, skipped, err := a.Migrate(ctx, modelType, claims)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		ModelType: modelType,
		ImageIDs:  []uint{},
		Skipped:   skipped,
	}
	if len(migrated) == 0 {
		return ds, nil
	}

	classes, labeled, undecodable, err := a.Labelize(ctx, modelType, migrated)
	if err != nil {
		return nil, err
	}
	ds.Classes = classes
	ds.Skipped = append(ds.Skipped, undecodable...)
	for _, m := range labeled {
		ds.ImageIDs = append(ds.ImageIDs, m.Image.ID)
	}
	if len(labeled) == 0 {
		return ds, nil
	}

	if ds.Manifest, err = a.BuildManifest(ctx, modelType); err != nil {
		return nil, err
	}
	return ds, nil
}

// Claim returns every ready-for-training image of modelType.
// An unknown type fails with a configuration error wrapping model.ErrUnknownType.
func (a *Assembler) Claim(ctx context.Context, modelType string) ([]*entities.Image, error) {
	t, err := a.types.Resolve(ctx, modelType)
	if err != nil {
		if errors.Is(err, repository.ErrTypeNotFound) {
			return nil, errors.New(fmt.Errorf("%w: %q", model.ErrUnknownType, modelType)).
				Component("dataset").
				Category(errors.CategoryConfiguration).
				Context("model_type", modelType).
				Build()
		}
		return nil, err
	}

	claims, err := a.images.ClaimReady(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	a.log.Info("claimed images",
		logger.String("model_type", modelType),
		logger.Int("count", len(claims)))
	return claims, nil
}

func datasetError(modelType, msg string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", msg, err)).
		Component("dataset").
		Category(errors.CategoryDataset).
		Context("model_type", modelType).
		Build()
}
