package training

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/xgstriker/bbd-server/internal/backup"
	"github.com/xgstriker/bbd-server/internal/dataset"
	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/datastore/repository"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/notify"
	"github.com/xgstriker/bbd-server/internal/observability/metrics"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

// Result is the final state of a run.
type Result struct {
	Outcome    entities.RunOutcome
	Promoted   bool
	OldMetric  *float64
	NewMetric  *float64
	Images     int
	Skipped    []error // each wraps ErrPartialIngestion
	BackupPath string
	ResultPath string // live weights when promoted, archive directory when archived
	Message    string
	Cleanup    *repository.DeleteResult
	Err        error
	FinishedAt time.Time
}

// Run is a handle to a background training run.
type Run struct {
	ModelType string
	Name      string
	StartedAt time.Time

	done   chan struct{}
	result *Result
}

func newRun(modelType, name string, started time.Time) *Run {
	return &Run{
		ModelType: modelType,
		Name:      name,
		StartedAt: started,
		done:      make(chan struct{}),
	}
}

// Done is closed when the run has reached an outcome.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result returns the run result, or nil while the run is in progress.
func (r *Run) Result() *Result {
	select {
	case <-r.done:
		return r.result
	default:
		return nil
	}
}

// Err returns the error that ended the run, or nil while running and for
// runs that were promoted, archived or skipped without error.
func (r *Run) Err() error {
	if res := r.Result(); res != nil {
		return res.Err
	}
	return nil
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) execute(ctx context.Context, run *Run) {
	res := &Result{Outcome: entities.RunOutcomePending}
	record := c.createRecord(ctx, run)
	c.deps.Recorder.RunStarted(run.ModelType)

	defer func() {
		if p := recover(); p != nil {
			c.log.Error("training run panicked",
				logger.String("model_type", run.ModelType),
				logger.String("run", run.Name),
				logger.Any("panic", p),
				logger.String("stack", string(debug.Stack())))
			res.Outcome = entities.RunOutcomeFailed
			res.Err = errors.New(fmt.Errorf("run panicked: %v", p)).
				Component("training").
				Category(errors.CategoryGeneric).
				Build()
			res.Message = "internal error: " + res.Err.Error()
		}
		c.finish(ctx, run, record, res)
	}()

	c.pipeline(ctx, run, res)
}

// pipeline runs every stage and fills res. Stage order:
// backup, assemble, train, evaluate, promote or archive, cleanup.
func (c *Coordinator) pipeline(ctx context.Context, run *Run, res *Result) {
	modelType := run.ModelType

	liveWeights, err := c.deps.Models.WeightsPath(modelType)
	if err != nil {
		c.fail(res, ErrConfiguration, errors.CategoryConfiguration, modelType, "configuration error", err)
		return
	}

	var snapshot *backup.Metadata
	err = c.stage(modelType, metrics.StageBackup, func() (err error) {
		snapshot, err = c.deps.Backups.Backup(ctx, modelType)
		return err
	})
	if err != nil {
		c.fail(res, nil, errors.CategoryBackup, modelType, "backup failed", err)
		return
	}
	res.BackupPath = snapshot.Path

	var ds *dataset.Dataset
	err = c.stage(modelType, metrics.StageAssemble, func() (err error) {
		ds, err = c.deps.Assembler.Assemble(ctx, modelType)
		return err
	})
	if err != nil {
		c.fail(res, nil, errors.CategoryDataset, modelType, "dataset assembly failed", err)
		return
	}
	res.Images = len(ds.ImageIDs)
	for _, s := range ds.Skipped {
		res.Skipped = append(res.Skipped, fmt.Errorf("%w: image %d: %w", ErrPartialIngestion, s.ImageID, s.Err))
	}
	if len(ds.ImageIDs) == 0 {
		res.Outcome = entities.RunOutcomeSkipped
		res.Message = MessageNoImages
		return
	}

	// From here on a failure leaves the migrated images in the workspace and
	// their rows untouched, so the next run picks them up again.
	workDir := c.deps.Layout.RunDir(modelType, run.Name)
	var trained *TrainResult
	err = c.stage(modelType, metrics.StageTrain, func() (err error) {
		trained, err = c.deps.Trainer.Train(ctx, TrainRequest{
			ModelType:   modelType,
			BaseWeights: liveWeights,
			Manifest:    ds.Manifest.Path,
			Epochs:      c.epochs,
			ProjectDir:  c.deps.Layout.RunsDir(modelType),
			RunName:     run.Name,
			WorkDir:     workDir,
		})
		return err
	})
	if err != nil {
		c.fail(res, ErrTrainingFailed, errors.CategoryTraining, modelType, "training failed", err)
		return
	}

	var decision *Decision
	err = c.stage(modelType, metrics.StageEvaluate, func() (err error) {
		decision, err = c.deps.Gate.Decide(ctx, modelType, ds.Manifest, snapshot.Path, trained.WeightsPath)
		return err
	})
	if err != nil {
		// Rejected without cleanup: live weights and rows stay as they are.
		if archived, archiveErr := c.archive(ctx, modelType, run.Name, workDir); archiveErr == nil {
			res.ResultPath = archived
		}
		c.fail(res, ErrEvaluationFailed, errors.CategoryEvaluation, modelType, "evaluation failed", err)
		return
	}
	res.OldMetric, res.NewMetric = &decision.OldMetric, &decision.NewMetric
	c.deps.Recorder.RecordScores(modelType, decision.OldMetric, decision.NewMetric)

	if decision.Promote {
		err = c.stage(modelType, metrics.StagePromote, func() error {
			_, err := c.deps.Promoter.Promote(ctx, modelType, trained.WeightsPath, ds.Manifest.Names)
			return err
		})
		if err != nil {
			c.fail(res, nil, errors.CategoryPromotion, modelType, "promotion failed", err)
			return
		}
		res.Outcome = entities.RunOutcomePromoted
		res.Promoted = true
		res.ResultPath = liveWeights
		res.Message = fmt.Sprintf("promoted: new model (%.4f) > old (%.4f)", decision.NewMetric, decision.OldMetric)
	} else {
		var archived string
		err = c.stage(modelType, metrics.StageArchive, func() (err error) {
			archived, err = c.archive(ctx, modelType, run.Name, workDir)
			return err
		})
		if err != nil {
			c.fail(res, nil, errors.CategoryFileIO, modelType, "archive failed", err)
			return
		}
		res.Outcome = entities.RunOutcomeArchived
		res.ResultPath = archived
		res.Message = fmt.Sprintf("archived: new model (%.4f) <= old (%.4f)", decision.NewMetric, decision.OldMetric)
	}

	// The outcome is final; consumed rows go even when the candidate was rejected.
	var deleted repository.DeleteResult
	err = c.stage(modelType, metrics.StageCleanup, func() (err error) {
		deleted, err = c.deps.Cleanup.Run(ctx, modelType, ds.ImageIDs)
		return err
	})
	if err != nil {
		res.Err = err
		res.Message += "; cleanup failed: " + err.Error()
		return
	}
	res.Cleanup = &deleted
}

// archive moves a run directory to <archive>/<type>/<run>.
func (c *Coordinator) archive(ctx context.Context, modelType, runName, workDir string) (string, error) {
	dest := c.deps.Layout.ArchiveDir(modelType, runName)
	if !workspace.DirExists(workDir) {
		return "", fmt.Errorf("run directory %s does not exist", workDir)
	}
	if err := workspace.MoveDir(ctx, workDir, dest); err != nil {
		return "", err
	}
	c.log.Info("run archived",
		logger.String("model_type", modelType),
		logger.String("run", runName),
		logger.String("path", dest))
	return dest, nil
}

// fail marks res failed. The message is "<prefix>: <cause>" unless the cause
// already carries kind, in which case its own text is used.
func (c *Coordinator) fail(res *Result, kind error, category errors.ErrorCategory, modelType, prefix string, err error) {
	res.Outcome = entities.RunOutcomeFailed
	switch {
	case kind != nil && errors.Is(err, kind):
		res.Err = err
		res.Message = err.Error()
	case kind != nil:
		res.Err = stageError(kind, category, modelType, err)
		res.Message = prefix + ": " + err.Error()
	default:
		res.Err = err
		res.Message = prefix + ": " + err.Error()
	}
}

// stage runs fn and records its duration and status.
func (c *Coordinator) stage(modelType, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		c.log.Warn("stage failed",
			logger.String("model_type", modelType),
			logger.String("stage", name),
			logger.Error(err))
	}
	c.deps.Recorder.RecordStage(modelType, name, status, time.Since(start).Seconds())
	return err
}

func (c *Coordinator) createRecord(ctx context.Context, run *Run) *entities.TrainingRun {
	record := &entities.TrainingRun{
		ModelType: run.ModelType,
		RunName:   run.Name,
		Outcome:   entities.RunOutcomePending,
		StartedAt: run.StartedAt,
	}
	if err := c.deps.Runs.Create(ctx, record); err != nil {
		c.log.Error("failed to record training run",
			logger.String("run", run.Name),
			logger.Error(err))
		return nil
	}
	return record
}

// finish persists the result, publishes the final status, releases the type
// and announces the outcome, in that order.
func (c *Coordinator) finish(ctx context.Context, run *Run, record *entities.TrainingRun, res *Result) {
	res.FinishedAt = c.now()
	if res.Outcome == entities.RunOutcomePending {
		res.Outcome = entities.RunOutcomeFailed
	}

	if record != nil {
		record.Outcome = res.Outcome
		record.Promoted = res.Promoted
		record.OldMetric = res.OldMetric
		record.NewMetric = res.NewMetric
		record.Images = res.Images
		record.BackupPath = res.BackupPath
		record.ResultPath = res.ResultPath
		record.Message = res.Message
		finished := res.FinishedAt
		record.FinishedAt = &finished
		if err := c.deps.Runs.Save(ctx, record); err != nil {
			c.log.Error("failed to save training run",
				logger.String("run", run.Name),
				logger.Error(err))
		}
	}

	finished := res.FinishedAt
	c.deps.Status.update(run.ModelType, func(s *Status) {
		s.Running = false
		s.Message = res.Message
		s.Outcome = string(res.Outcome)
		s.FinishedAt = &finished
		if res.ResultPath != "" {
			s.ResultPath = res.ResultPath
		}
	})
	c.deps.Recorder.RunFinished(run.ModelType, string(res.Outcome), res.FinishedAt.Sub(run.StartedAt).Seconds())

	fields := []logger.Field{
		logger.String("model_type", run.ModelType),
		logger.String("run", run.Name),
		logger.String("outcome", string(res.Outcome)),
		logger.String("message", res.Message),
		logger.Int("images", res.Images),
		logger.Int("skipped", len(res.Skipped)),
	}
	if res.Err != nil {
		c.log.Error("training run finished", append(fields, logger.Error(res.Err))...)
	} else {
		c.log.Info("training run finished", fields...)
	}

	run.result = res
	c.locks[run.ModelType].Store(false)

	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := c.deps.Notifier.Notify(nctx, c.event(run, res)); err != nil {
		c.log.Warn("failed to send run notification",
			logger.String("run", run.Name),
			logger.Error(err))
	}

	close(run.done)
}

func (c *Coordinator) event(run *Run, res *Result) *notify.Event {
	return &notify.Event{
		ModelType:  run.ModelType,
		RunName:    run.Name,
		Outcome:    string(res.Outcome),
		Promoted:   res.Promoted,
		OldMetric:  res.OldMetric,
		NewMetric:  res.NewMetric,
		Images:     res.Images,
		Message:    res.Message,
		FinishedAt: res.FinishedAt,
	}
}
