package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
)

type modelTypeRepository struct {
	db *gorm.DB
}

// NewModelTypeRepository creates a new ModelTypeRepository.
func NewModelTypeRepository(db *gorm.DB) ModelTypeRepository {
	return &modelTypeRepository{db: db}
}

func (r *modelTypeRepository) Resolve(ctx context.Context, title string) (*entities.ModelType, error) {
	var modelType entities.ModelType
	err := r.db.WithContext(ctx).Where("title = ?", title).First(&modelType).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTypeNotFound
		}
		return nil, err
	}
	return &modelType, nil
}

func (r *modelTypeRepository) GetAll(ctx context.Context) ([]*entities.ModelType, error) {
	var types []*entities.ModelType
	err := r.db.WithContext(ctx).Order("title ASC").Find(&types).Error
	return types, err
}
