package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
)

// DeleteResult reports how many rows a consumed-image delete removed.
type DeleteResult struct {
	Objects int64
	Links   int64
	Images  int64
}

// ImageRepository provides access to images, detection objects and their links.
type ImageRepository interface {
	// Create inserts an image together with its detection objects and links.
	// Object statuses and the image status are derived from confidences.
	Create(ctx context.Context, image *entities.Image, objects []entities.DetectionObject) error

	// GetByID retrieves an image by its ID.
	// Returns ErrImageNotFound if not found.
	GetByID(ctx context.Context, id uint) (*entities.Image, error)

	// ClaimReady returns every image of the type with the ready-for-training flag set, ordered by ID.
	ClaimReady(ctx context.Context, typeID uint) ([]*entities.Image, error)

	// ObjectsForImage returns the detection objects linked to an image, ordered by object ID.
	ObjectsForImage(ctx context.Context, imageID uint) ([]*entities.DetectionObject, error)

	// ReplaceObjects atomically replaces an image's detection objects and recomputes statuses.
	// Returns ErrImageNotFound if the image does not exist.
	ReplaceObjects(ctx context.Context, imageID uint, objects []entities.DetectionObject) (*entities.Image, error)

	// DeleteConsumed deletes the images, their links and their objects inside tx.
	// The caller owns the commit.
	DeleteConsumed(ctx context.Context, tx *gorm.DB, imageIDs []uint) (DeleteResult, error)

	// CountByType returns the number of images of a type, optionally only ready ones.
	CountByType(ctx context.Context, typeID uint, readyOnly bool) (int64, error)
}
