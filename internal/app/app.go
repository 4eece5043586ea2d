// Package app wires the training server components from settings.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/xgstriker/bbd-server/internal/backup"
	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/dataset"
	"github.com/xgstriker/bbd-server/internal/datastore"
	"github.com/xgstriker/bbd-server/internal/datastore/repository"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/model"
	"github.com/xgstriker/bbd-server/internal/notify"
	"github.com/xgstriker/bbd-server/internal/observability"
	"github.com/xgstriker/bbd-server/internal/training"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

const sentryFlushTimeout = 2 * time.Second

// GetLogger returns the app package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// App holds every long-lived component.
type App struct {
	Settings    *conf.Settings
	DB          datastore.Manager
	Layout      workspace.Layout
	Models      *model.Registry
	Backups     *backup.Manager
	Assembler   *dataset.Assembler
	Coordinator *training.Coordinator
	Images      repository.ImageRepository
	Runs        repository.TrainingRunRepository
	Metrics     *observability.Metrics
	Notifier    notify.Notifier

	sentry bool
	log    logger.Logger
}

// Options tunes New.
type Options struct {
	Version string
	// Trainer and Evaluator replace the configured commands when set.
	Trainer   training.Trainer
	Evaluator training.Evaluator
}

// New opens the store, loads the live models and builds the coordinator.
// Components opened before a failure are closed again.
func New(ctx context.Context, settings *conf.Settings, opts Options) (a *App, err error) {
	a = &App{Settings: settings, log: GetLogger()}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, opts.Version, settings.Debug); err != nil {
			a.log.Warn("error telemetry disabled", logger.Error(err))
		} else {
			a.sentry = true
		}
	}

	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, err
	}

	if a.DB, err = datastore.Open(&settings.Database); err != nil {
		return nil, err
	}
	if err = a.DB.Initialize(settings.ModelTypes()); err != nil {
		return nil, err
	}
	db := a.DB.DB()
	a.Images = repository.NewImageRepository(db)
	a.Runs = repository.NewTrainingRunRepository(db)
	types := repository.NewModelTypeRepository(db)

	a.Layout = workspace.NewLayout(&settings.Workspace)
	a.Models = model.NewRegistry(settings.Models, model.FileLoader{})
	if err = a.Models.LoadAll(ctx); err != nil {
		return nil, err
	}

	a.Backups = backup.NewManager(a.Models, a.Layout, settings.Workspace.MinFreeBytes)
	a.Assembler = dataset.NewAssembler(types, a.Images, a.Models, a.Layout, dataset.Config{
		BaseDir:      settings.Workspace.UploadsRoot,
		MinFreeBytes: settings.Workspace.MinFreeBytes,
	}, a.Metrics.Training)

	trainer := opts.Trainer
	if trainer == nil {
		if trainer, err = training.NewCommandTrainer(&settings.Training); err != nil {
			return nil, configError("trainer", err)
		}
	}
	evaluator := opts.Evaluator
	if evaluator == nil {
		if evaluator, err = training.NewCommandEvaluator(&settings.Training); err != nil {
			return nil, configError("evaluator", err)
		}
	}

	if a.Notifier, err = notify.FromSettings(ctx, &settings.Notify, a.Metrics.Notification); err != nil {
		return nil, err
	}

	a.Coordinator = training.NewCoordinator(training.Dependencies{
		Models:    a.Models,
		Backups:   a.Backups,
		Assembler: a.Assembler,
		Trainer:   trainer,
		Gate:      training.NewGate(evaluator, a.Assembler, settings.Training.EvaluationParallel),
		Promoter:  model.NewPromoter(a.Models, a.Models),
		Cleanup:   training.NewCleanup(db, a.Images, a.Layout),
		Runs:      a.Runs,
		Layout:    a.Layout,
		Notifier:  a.Notifier,
		Recorder:  a.Metrics.Training,
	}, settings.Training.Epochs)

	a.log.Info("application initialized",
		logger.String("database", a.DB.Path()),
		logger.Any("model_types", a.Models.Types()),
		logger.Int("epochs", settings.Training.Epochs))
	return a, nil
}

// RecoverInterrupted closes runs a previous process left pending.
func (a *App) RecoverInterrupted(ctx context.Context) error {
	_, err := a.Coordinator.RecoverInterrupted(ctx)
	return err
}

// Close waits for active runs, then releases every resource. Runs are not
// cancelled; ctx only bounds how long Close waits for them.
func (a *App) Close(ctx context.Context) error {
	var waitErr error
	if a.Coordinator != nil {
		for _, t := range a.Models.Types() {
			if a.Coordinator.Running(t) {
				a.log.Info("waiting for active training runs")
				break
			}
		}
		if waitErr = a.Coordinator.Wait(ctx); waitErr != nil {
			a.log.Warn("training runs still active at shutdown", logger.Error(waitErr))
		}
	}
	return errors.Join(waitErr, a.closeResources())
}

func (a *App) closeResources() error {
	var errs []error
	if a.Notifier != nil {
		if err := a.Notifier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.sentry {
		sentry.Flush(sentryFlushTimeout)
	}
	return errors.Join(errs...)
}

func configError(component string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", component, err)).
		Component("app").
		Category(errors.CategoryConfiguration).
		Build()
}
