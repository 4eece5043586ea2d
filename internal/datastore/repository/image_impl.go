package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
)

type imageRepository struct {
	db *gorm.DB
}

// NewImageRepository creates a new ImageRepository.
func NewImageRepository(db *gorm.DB) ImageRepository {
	return &imageRepository{db: db}
}

func (r *imageRepository) Create(ctx context.Context, image *entities.Image, objects []entities.DetectionObject) error {
	if image == nil || image.TypeID == 0 || image.Path == "" {
		return ErrInvalidInput
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		statuses, err := loadStatusIDs(tx)
		if err != nil {
			return err
		}

		titles := applyObjectStatuses(objects, statuses)
		if image.StatusID == nil && len(objects) > 0 {
			id := statuses[entities.WorstStatus(titles...)]
			image.StatusID = &id
		}

		if err := tx.Create(image).Error; err != nil {
			return fmt.Errorf("create image: %w", err)
		}
		return insertObjects(tx, image.ID, objects)
	})
}

func (r *imageRepository) GetByID(ctx context.Context, id uint) (*entities.Image, error) {
	var image entities.Image
	err := r.db.WithContext(ctx).Preload("Status").First(&image, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, err
	}
	return &image, nil
}

func (r *imageRepository) ClaimReady(ctx context.Context, typeID uint) ([]*entities.Image, error) {
	var images []*entities.Image
	err := r.db.WithContext(ctx).
		Where("type_id = ? AND ready_for_training = ?", typeID, true).
		Order("id ASC").
		Find(&images).Error
	return images, err
}

func (r *imageRepository) ObjectsForImage(ctx context.Context, imageID uint) ([]*entities.DetectionObject, error) {
	var objects []*entities.DetectionObject
	err := r.db.WithContext(ctx).
		Joins("JOIN image_object_links ON image_object_links.object_id = objects.id").
		Where("image_object_links.image_id = ?", imageID).
		Order("objects.id ASC").
		Find(&objects).Error
	return objects, err
}

func (r *imageRepository) ReplaceObjects(ctx context.Context, imageID uint, objects []entities.DetectionObject) (*entities.Image, error) {
	var image entities.Image

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&image, imageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrImageNotFound
			}
			return err
		}

		if _, err := deleteObjectsForImages(tx, []uint{imageID}); err != nil {
			return err
		}

		statuses, err := loadStatusIDs(tx)
		if err != nil {
			return err
		}
		titles := applyObjectStatuses(objects, statuses)
		if err := insertObjects(tx, imageID, objects); err != nil {
			return err
		}

		var statusID *uint
		if len(objects) > 0 {
			id := statuses[entities.WorstStatus(titles...)]
			statusID = &id
		}
		image.StatusID = statusID
		return tx.Model(&image).Update("status_id", statusID).Error
	})
	if err != nil {
		return nil, err
	}
	return &image, nil
}

func (r *imageRepository) DeleteConsumed(ctx context.Context, tx *gorm.DB, imageIDs []uint) (DeleteResult, error) {
	var result DeleteResult
	if len(imageIDs) == 0 {
		return result, nil
	}
	tx = tx.WithContext(ctx)

	for _, chunk := range chunkIDs(imageIDs, maxBatchParams) {
		partial, err := deleteObjectsForImages(tx, chunk)
		if err != nil {
			return result, err
		}
		result.Objects += partial.Objects
		result.Links += partial.Links

		res := tx.Where("id IN ?", chunk).Delete(&entities.Image{})
		if res.Error != nil {
			return result, fmt.Errorf("delete images: %w", res.Error)
		}
		result.Images += res.RowsAffected
	}

	return result, nil
}

func (r *imageRepository) CountByType(ctx context.Context, typeID uint, readyOnly bool) (int64, error) {
	query := r.db.WithContext(ctx).Model(&entities.Image{}).Where("type_id = ?", typeID)
	if readyOnly {
		query = query.Where("ready_for_training = ?", true)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

// deleteObjectsForImages removes the link rows of the images and the objects they referenced.
func deleteObjectsForImages(tx *gorm.DB, imageIDs []uint) (DeleteResult, error) {
	var result DeleteResult

	var objectIDs []uint
	if err := tx.Model(&entities.ImageObjectLink{}).
		Where("image_id IN ?", imageIDs).
		Pluck("object_id", &objectIDs).Error; err != nil {
		return result, fmt.Errorf("find linked objects: %w", err)
	}

	res := tx.Where("image_id IN ?", imageIDs).Delete(&entities.ImageObjectLink{})
	if res.Error != nil {
		return result, fmt.Errorf("delete links: %w", res.Error)
	}
	result.Links = res.RowsAffected

	for _, chunk := range chunkIDs(objectIDs, maxBatchParams) {
		res := tx.Where("id IN ?", chunk).Delete(&entities.DetectionObject{})
		if res.Error != nil {
			return result, fmt.Errorf("delete objects: %w", res.Error)
		}
		result.Objects += res.RowsAffected
	}

	return result, nil
}

func insertObjects(tx *gorm.DB, imageID uint, objects []entities.DetectionObject) error {
	if len(objects) == 0 {
		return nil
	}

	for i := range objects {
		objects[i].ID = 0
	}
	if err := tx.Create(&objects).Error; err != nil {
		return fmt.Errorf("create objects: %w", err)
	}

	links := make([]entities.ImageObjectLink, len(objects))
	for i := range objects {
		links[i] = entities.ImageObjectLink{ImageID: imageID, ObjectID: objects[i].ID}
	}
	if err := tx.Create(&links).Error; err != nil {
		return fmt.Errorf("create links: %w", err)
	}
	return nil
}

// applyObjectStatuses sets StatusID on each object from its confidence and
// returns the status titles in object order.
func applyObjectStatuses(objects []entities.DetectionObject, statuses map[string]uint) []string {
	titles := make([]string, len(objects))
	for i := range objects {
		titles[i] = entities.ClassifyConfidence(objects[i].Confidence)
		id := statuses[titles[i]]
		objects[i].StatusID = &id
	}
	return titles
}

func loadStatusIDs(tx *gorm.DB) (map[string]uint, error) {
	var rows []entities.Status
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load statuses: %w", err)
	}

	ids := make(map[string]uint, len(rows))
	for _, row := range rows {
		ids[row.Title] = row.ID
	}
	for _, want := range entities.DefaultStatuses() {
		if _, ok := ids[want.Title]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrStatusNotFound, want.Title)
		}
	}
	return ids, nil
}
