package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
)

const defaultRunListLimit = 50

type trainingRunRepository struct {
	db *gorm.DB
}

// NewTrainingRunRepository creates a new TrainingRunRepository.
func NewTrainingRunRepository(db *gorm.DB) TrainingRunRepository {
	return &trainingRunRepository{db: db}
}

func (r *trainingRunRepository) Create(ctx context.Context, run *entities.TrainingRun) error {
	if run == nil || run.ModelType == "" || run.RunName == "" {
		return ErrInvalidInput
	}
	if run.Outcome == "" {
		run.Outcome = entities.RunOutcomePending
	}
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *trainingRunRepository) Save(ctx context.Context, run *entities.TrainingRun) error {
	if run == nil || run.ID == 0 {
		return ErrInvalidInput
	}
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *trainingRunRepository) GetByRunName(ctx context.Context, runName string) (*entities.TrainingRun, error) {
	var run entities.TrainingRun
	err := r.db.WithContext(ctx).Where("run_name = ?", runName).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (r *trainingRunRepository) ListByType(ctx context.Context, modelType string, limit int) ([]*entities.TrainingRun, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	var runs []*entities.TrainingRun
	err := r.db.WithContext(ctx).
		Where("model_type = ?", modelType).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (r *trainingRunRepository) MarkInterrupted(ctx context.Context, message string) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&entities.TrainingRun{}).
		Where("outcome = ?", entities.RunOutcomePending).
		Updates(map[string]any{
			"outcome":     entities.RunOutcomeFailed,
			"message":     message,
			"finished_at": now,
		})
	return res.RowsAffected, res.Error
}
