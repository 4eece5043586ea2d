// Package training runs the retraining pipeline of a model type: backup,
// dataset assembly, training, evaluation, promotion or archive, and cleanup.
//
// At most one run per model type is active at a time. Start fails fast with
// ErrAlreadyRunning instead of queueing, and returns a *Run whose completion
// can be awaited. Runs are not cancellable; once started they continue until
// they reach an outcome even if the triggering request goes away.
package training

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xgstriker/bbd-server/internal/backup"
	"github.com/xgstriker/bbd-server/internal/dataset"
	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/datastore/repository"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/model"
	"github.com/xgstriker/bbd-server/internal/notify"
	"github.com/xgstriker/bbd-server/internal/observability/metrics"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

// RunTimestampFormat is appended to the run prefix to form a run name.
const RunTimestampFormat = "20060102_150405"

const notifyTimeout = 30 * time.Second

// ModelCatalog resolves configured model types.
type ModelCatalog interface {
	Types() []string
	Has(modelType string) bool
	WeightsPath(modelType string) (string, error)
	RunPrefix(modelType string) (string, error)
}

// Backupper snapshots live weights.
type Backupper interface {
	Backup(ctx context.Context, modelType string) (*backup.Metadata, error)
}

// DatasetAssembler builds the training dataset of a type.
type DatasetAssembler interface {
	ManifestBuilder
	Assemble(ctx context.Context, modelType string) (*dataset.Dataset, error)
}

// Promoter replaces live weights.
type Promoter interface {
	Promote(ctx context.Context, modelType, newWeights string, classes []string) (*model.Handle, error)
}

// Cleaner removes the data consumed by a decided run.
type Cleaner interface {
	Run(ctx context.Context, modelType string, imageIDs []uint) (repository.DeleteResult, error)
}

// Dependencies are the collaborators of a Coordinator. Notifier and Recorder may be nil.
type Dependencies struct {
	Models    ModelCatalog
	Backups   Backupper
	Assembler DatasetAssembler
	Trainer   Trainer
	Gate      *Gate
	Promoter  Promoter
	Cleanup   Cleaner
	Runs      repository.TrainingRunRepository
	Status    *StatusRegistry
	Layout    workspace.Layout
	Notifier  notify.Notifier
	Recorder  metrics.Recorder
}

// Coordinator starts and supervises training runs.
type Coordinator struct {
	deps   Dependencies
	epochs int
	locks  map[string]*atomic.Bool
	wg     sync.WaitGroup
	now    func() time.Time
	log    logger.Logger
}

// NewCoordinator creates a coordinator for every type in deps.Models.
func NewCoordinator(deps Dependencies, epochs int) *Coordinator {
	if deps.Status == nil {
		deps.Status = NewStatusRegistry()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NopRecorder{}
	}

	c := &Coordinator{
		deps:   deps,
		epochs: epochs,
		locks:  make(map[string]*atomic.Bool),
		now:    time.Now,
		log:    GetLogger(),
	}
	for _, t := range deps.Models.Types() {
		c.locks[t] = &atomic.Bool{}
	}
	return c
}

// Status returns the status registry.
func (c *Coordinator) Status() *StatusRegistry {
	return c.deps.Status
}

// Running reports whether a run of modelType is active.
func (c *Coordinator) Running(modelType string) bool {
	lock, ok := c.locks[modelType]
	return ok && lock.Load()
}

// Start begins a run of modelType in the background and returns immediately.
// It fails with ErrConfiguration for unknown types and ErrAlreadyRunning when
// a run of the type is active; neither case has side effects.
func (c *Coordinator) Start(ctx context.Context, modelType string) (*Run, error) {
	lock, ok := c.locks[modelType]
	if !ok {
		return nil, stageError(ErrConfiguration, errors.CategoryConfiguration, modelType,
			fmt.Errorf("%w: %q", model.ErrUnknownType, modelType))
	}
	if !lock.CompareAndSwap(false, true) {
		return nil, errors.New(fmt.Errorf("%w: %s", ErrAlreadyRunning, modelType)).
			Component("training").
			Category(errors.CategoryConflict).
			Context("model_type", modelType).
			Build()
	}

	name, err := c.runName(ctx, modelType)
	if err != nil {
		lock.Store(false)
		return nil, err
	}

	run := newRun(modelType, name, c.now())
	started := run.StartedAt
	c.deps.Status.update(modelType, func(s *Status) {
		s.Running = true
		s.Message = MessageInProgress
		s.RunName = name
		s.Outcome = string(entities.RunOutcomePending)
		s.StartedAt = &started
		s.FinishedAt = nil
	})

	c.log.Info("training run started",
		logger.String("model_type", modelType),
		logger.String("run", name))

	runCtx := context.WithoutCancel(ctx)
	c.wg.Go(func() { c.execute(runCtx, run) })
	return run, nil
}

// Wait blocks until every started run has finished or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns the most recent runs of modelType, newest first.
func (c *Coordinator) History(ctx context.Context, modelType string, limit int) ([]*entities.TrainingRun, error) {
	if !c.deps.Models.Has(modelType) {
		return nil, stageError(ErrConfiguration, errors.CategoryConfiguration, modelType,
			fmt.Errorf("%w: %q", model.ErrUnknownType, modelType))
	}
	return c.deps.Runs.ListByType(ctx, modelType, limit)
}

// RecoverInterrupted closes runs left pending by a previous process.
func (c *Coordinator) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := c.deps.Runs.MarkInterrupted(ctx, "interrupted by restart")
	if err == nil && n > 0 {
		c.log.Warn("closed interrupted training runs", logger.Int64("count", n))
	}
	return n, err
}

// runName returns <prefix>_<timestamp>, suffixed when that name was already used.
func (c *Coordinator) runName(ctx context.Context, modelType string) (string, error) {
	prefix, err := c.deps.Models.RunPrefix(modelType)
	if err != nil {
		return "", stageError(ErrConfiguration, errors.CategoryConfiguration, modelType, err)
	}
	base := prefix + "_" + c.now().Format(RunTimestampFormat)

	name := base
	for i := 1; ; i++ {
		taken, err := c.nameTaken(ctx, modelType, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		name = base + "_" + strconv.Itoa(i)
	}
}

func (c *Coordinator) nameTaken(ctx context.Context, modelType, name string) (bool, error) {
	if workspace.DirExists(c.deps.Layout.RunDir(modelType, name)) ||
		workspace.DirExists(c.deps.Layout.ArchiveDir(modelType, name)) {
		return true, nil
	}
	_, err := c.deps.Runs.GetByRunName(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrRunNotFound):
		return false, nil
	default:
		return false, err
	}
}
