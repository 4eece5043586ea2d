package training

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgstriker/bbd-server/internal/backup"
	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/dataset"
	"github.com/xgstriker/bbd-server/internal/datastore"
	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/datastore/repository"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/model"
	"github.com/xgstriker/bbd-server/internal/notify"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

const (
	incumbentWeights = "weights-v1"
	candidateWeights = "weights-v2"
)

// stubTrainer writes candidate weights into the run directory.
type stubTrainer struct {
	err     error
	release chan struct{} // when set, Train blocks until it is closed

	mu       sync.Mutex
	requests []TrainRequest
}

func (s *stubTrainer) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	dir := filepath.Join(req.WorkDir, "weights")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "best.pt")
	if err := os.WriteFile(path, []byte(candidateWeights), 0o644); err != nil {
		return nil, err
	}
	return &TrainResult{WeightsPath: path}, nil
}

func (s *stubTrainer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// stubEvaluator scores weights by their content.
type stubEvaluator struct {
	scores map[string]float64
	errs   map[string]error
}

func (e *stubEvaluator) Evaluate(_ context.Context, weightsPath, _ string) (float64, error) {
	data, err := os.ReadFile(weightsPath)
	if err != nil {
		return 0, err
	}
	if err := e.errs[string(data)]; err != nil {
		return 0, err
	}
	score, ok := e.scores[string(data)]
	if !ok {
		return 0, fmt.Errorf("no score for %q", data)
	}
	return score, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e *notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) last() *notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return nil
	}
	return n.events[len(n.events)-1]
}

type fixture struct {
	coordinator *Coordinator
	trainer     *stubTrainer
	evaluator   *stubEvaluator
	notifier    *recordingNotifier
	registry    *model.Registry
	images      repository.ImageRepository
	runs        repository.TrainingRunRepository
	layout      workspace.Layout
	weights     string
	uploads     string
	typeID      uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	ctx := context.Background()

	manager, err := datastore.NewSQLiteManager(filepath.Join(root, "bbd.db"))
	require.NoError(t, err)
	require.NoError(t, manager.Initialize([]string{"Object", "Money"}))
	t.Cleanup(func() { _ = manager.Close() })

	models := []conf.ModelSettings{
		{Name: "Object", Weights: filepath.Join(root, "models", "object.pt"), Runs: "object"},
		{Name: "Money", Weights: filepath.Join(root, "models", "money.pt"), Runs: "money"},
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "models"), 0o755))
	for _, m := range models {
		require.NoError(t, os.WriteFile(m.Weights, []byte(incumbentWeights), 0o644))
	}
	registry := model.NewRegistry(models, model.FileLoader{})
	require.NoError(t, registry.LoadAll(ctx))

	layout := workspace.NewLayout(&conf.WorkspaceSettings{
		Root:    filepath.Join(root, "training_data"),
		Runs:    filepath.Join(root, "runs"),
		Archive: filepath.Join(root, "archive"),
		Backups: filepath.Join(root, "backups"),
	})

	types := repository.NewModelTypeRepository(manager.DB())
	objectType, err := types.Resolve(ctx, "Object")
	require.NoError(t, err)

	f := &fixture{
		trainer:   &stubTrainer{},
		evaluator: &stubEvaluator{scores: map[string]float64{incumbentWeights: 0.80}, errs: map[string]error{}},
		notifier:  &recordingNotifier{},
		registry:  registry,
		images:    repository.NewImageRepository(manager.DB()),
		runs:      repository.NewTrainingRunRepository(manager.DB()),
		layout:    layout,
		weights:   models[0].Weights,
		uploads:   filepath.Join(root, "uploads"),
		typeID:    objectType.ID,
	}
	require.NoError(t, os.MkdirAll(f.uploads, 0o755))

	assembler := dataset.NewAssembler(types, f.images, registry, layout, dataset.Config{BaseDir: root}, nil)
	f.coordinator = NewCoordinator(Dependencies{
		Models:    registry,
		Backups:   backup.NewManager(registry, layout, 0),
		Assembler: assembler,
		Trainer:   f.trainer,
		Gate:      NewGate(f.evaluator, assembler, 2),
		Promoter:  model.NewPromoter(registry, registry),
		Cleanup:   NewCleanup(manager.DB(), f.images, layout),
		Runs:      f.runs,
		Layout:    layout,
		Notifier:  f.notifier,
	}, 3)
	return f
}

func (f *fixture) addImage(t *testing.T, name string, objects ...entities.DetectionObject) {
	t.Helper()
	file, err := os.Create(filepath.Join(f.uploads, name))
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, image.NewRGBA(image.Rect(0, 0, 100, 50))))
	require.NoError(t, file.Close())

	img := &entities.Image{Path: `uploads\` + name, TypeID: f.typeID, Extension: "png", ReadyForTraining: true}
	require.NoError(t, f.images.Create(context.Background(), img, objects))
}

func (f *fixture) addLabelledImages(t *testing.T) {
	t.Helper()
	f.addImage(t, "a.png",
		entities.DetectionObject{Name: "cat", Confidence: 0.9, X1: 10, Y1: 10, X2: 30, Y2: 20},
		entities.DetectionObject{Name: "dog", Confidence: 0.9, X1: 50, Y1: 0, X2: 100, Y2: 50})
	f.addImage(t, "b.png",
		entities.DetectionObject{Name: "cat", Confidence: 0.8, X1: 0, Y1: 0, X2: 10, Y2: 10})
}

func (f *fixture) run(t *testing.T, modelType string) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run, err := f.coordinator.Start(ctx, modelType)
	require.NoError(t, err)
	res, err := run.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (f *fixture) imageCount(t *testing.T) int64 {
	t.Helper()
	n, err := f.images.CountByType(context.Background(), f.typeID, false)
	require.NoError(t, err)
	return n
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunPromotesBetterCandidate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.evaluator.scores[candidateWeights] = 0.82
	f.addLabelledImages(t)

	res := f.run(t, "Object")

	assert.Equal(t, entities.RunOutcomePromoted, res.Outcome)
	assert.True(t, res.Promoted)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Images)
	assert.InDelta(t, 0.80, *res.OldMetric, 1e-9)
	assert.InDelta(t, 0.82, *res.NewMetric, 1e-9)
	assert.Equal(t, "promoted: new model (0.8200) > old (0.8000)", res.Message)
	assert.Equal(t, f.weights, res.ResultPath)

	assert.Equal(t, candidateWeights, readFile(t, f.weights))
	h, err := f.registry.Current(context.Background(), "Object")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog"}, h.Classes)

	assert.Equal(t, incumbentWeights, readFile(t, res.BackupPath))
	assert.Equal(t, f.layout.BackupDir("Object"), filepath.Dir(res.BackupPath))

	assert.Zero(t, f.imageCount(t))
	require.NotNil(t, res.Cleanup)
	assert.EqualValues(t, 2, res.Cleanup.Images)
	assert.EqualValues(t, 3, res.Cleanup.Objects)
	assert.NoDirExists(t, f.layout.TypeDir("Object"))

	status := f.coordinator.Status().Get("Object")
	assert.False(t, status.Running)
	assert.Equal(t, res.Message, status.Message)
	assert.Equal(t, f.weights, status.ResultPath)

	history, err := f.coordinator.History(context.Background(), "Object", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entities.RunOutcomePromoted, history[0].Outcome)
	assert.NotNil(t, history[0].FinishedAt)

	event := f.notifier.last()
	require.NotNil(t, event)
	assert.Equal(t, "Object", event.ModelType)
	assert.True(t, event.Promoted)
}

func TestRunArchivesCandidateThatDoesNotImprove(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		score float64
	}{
		{"worse", 0.75},
		{"tie", 0.80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.evaluator.scores[candidateWeights] = tt.score
			f.addLabelledImages(t)

			res := f.run(t, "Object")

			assert.Equal(t, entities.RunOutcomeArchived, res.Outcome)
			assert.False(t, res.Promoted)
			require.NoError(t, res.Err)
			assert.True(t, strings.HasPrefix(res.Message, "archived: "), res.Message)
			assert.Equal(t, incumbentWeights, readFile(t, f.weights))

			runName := f.coordinator.Status().Get("Object").RunName
			assert.Equal(t, f.layout.ArchiveDir("Object", runName), res.ResultPath)
			assert.FileExists(t, filepath.Join(res.ResultPath, "weights", "best.pt"))
			assert.NoDirExists(t, f.layout.RunDir("Object", runName))

			// Consumed images go even when the candidate is rejected.
			assert.Zero(t, f.imageCount(t))
			assert.NoDirExists(t, f.layout.TypeDir("Object"))
		})
	}
}

func TestRunTrainerFailureKeepsData(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.trainer.err = errors.NewStd("CUDA out of memory")
	f.addLabelledImages(t)

	res := f.run(t, "Object")

	assert.Equal(t, entities.RunOutcomeFailed, res.Outcome)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrTrainingFailed)
	assert.Equal(t, "training failed: CUDA out of memory", res.Message)
	assert.Nil(t, res.Cleanup)

	assert.Equal(t, incumbentWeights, readFile(t, f.weights))
	assert.EqualValues(t, 2, f.imageCount(t))
	assert.DirExists(t, f.layout.ImagesDir("Object"))

	// The next run re-adopts the migrated images.
	f.trainer.err = nil
	f.evaluator.scores[candidateWeights] = 0.9
	res = f.run(t, "Object")
	assert.Equal(t, entities.RunOutcomePromoted, res.Outcome)
	assert.Equal(t, 2, res.Images)
	assert.Zero(t, f.imageCount(t))
}

func TestRunEvaluatorFailureArchivesWithoutCleanup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.evaluator.errs[candidateWeights] = errors.NewStd("evaluator crashed")
	f.addLabelledImages(t)

	res := f.run(t, "Object")

	assert.Equal(t, entities.RunOutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrEvaluationFailed)
	assert.True(t, strings.HasPrefix(res.Message, "evaluation failed: "), res.Message)
	assert.Equal(t, incumbentWeights, readFile(t, f.weights))
	assert.EqualValues(t, 2, f.imageCount(t))

	runName := f.coordinator.Status().Get("Object").RunName
	assert.DirExists(t, f.layout.ArchiveDir("Object", runName))
}

func TestRunWithoutImagesIsSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.run(t, "Object")

	assert.Equal(t, entities.RunOutcomeSkipped, res.Outcome)
	assert.Equal(t, MessageNoImages, res.Message)
	require.NoError(t, res.Err)
	assert.Zero(t, f.trainer.calls())
	assert.NotEmpty(t, res.BackupPath)
	assert.Equal(t, incumbentWeights, readFile(t, f.weights))
}

func TestRunSkipsMissingSources(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.evaluator.scores[candidateWeights] = 0.9
	f.addLabelledImages(t)
	require.NoError(t, os.Remove(filepath.Join(f.uploads, "b.png")))

	res := f.run(t, "Object")

	assert.Equal(t, entities.RunOutcomePromoted, res.Outcome)
	assert.Equal(t, 1, res.Images)
	require.Len(t, res.Skipped, 1)
	assert.ErrorIs(t, res.Skipped[0], ErrPartialIngestion)
	// The skipped image was never claimed for cleanup.
	assert.EqualValues(t, 1, f.imageCount(t))
}

func TestStartUnknownType(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	run, err := f.coordinator.Start(context.Background(), "Bird")
	assert.Nil(t, run)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, model.ErrUnknownType)
	assert.Equal(t, MessageIdle, f.coordinator.Status().Get("Bird").Message)
	assert.False(t, f.coordinator.Running("Bird"))
}

func TestStartRejectsConcurrentRunsOfSameType(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.trainer.release = make(chan struct{})
	f.evaluator.scores[candidateWeights] = 0.9
	f.addLabelledImages(t)
	ctx := context.Background()

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started []*Run
		refused int
	)
	for range callers {
		wg.Go(func() {
			run, err := f.coordinator.Start(ctx, "Object")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrAlreadyRunning)
				refused++
				return
			}
			started = append(started, run)
		})
	}
	wg.Wait()

	require.Len(t, started, 1)
	assert.Equal(t, callers-1, refused)
	assert.True(t, f.coordinator.Running("Object"))

	status := f.coordinator.Status().Get("Object")
	assert.True(t, status.Running)
	assert.Equal(t, MessageInProgress, status.Message)
	assert.Nil(t, started[0].Result())

	// Another type is independent.
	money, err := f.coordinator.Start(ctx, "Money")
	require.NoError(t, err)

	close(f.trainer.release)
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	require.NoError(t, f.coordinator.Wait(waitCtx))

	assert.Equal(t, entities.RunOutcomePromoted, started[0].Result().Outcome)
	assert.Equal(t, entities.RunOutcomeSkipped, money.Result().Outcome)
	assert.False(t, f.coordinator.Running("Object"))

	// The type is released once the run has finished.
	res := f.run(t, "Object")
	assert.Equal(t, entities.RunOutcomeSkipped, res.Outcome)
}

func TestRunNamesAreUnique(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	fixed := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	f.coordinator.now = func() time.Time { return fixed }

	first := f.run(t, "Object")
	require.Equal(t, entities.RunOutcomeSkipped, first.Outcome)
	firstName := f.coordinator.Status().Get("Object").RunName
	f.run(t, "Object")
	secondName := f.coordinator.Status().Get("Object").RunName

	assert.Equal(t, "object_20240501_123000", firstName)
	assert.Equal(t, "object_20240501_123000_1", secondName)
}

func TestRunNameSkipsExistingDirectories(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	fixed := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	f.coordinator.now = func() time.Time { return fixed }

	require.NoError(t, os.MkdirAll(f.layout.ArchiveDir("Object", "object_20240501_123000"), 0o755))
	require.NoError(t, os.MkdirAll(f.layout.RunDir("Object", "object_20240501_123000_1"), 0o755))

	name, err := f.coordinator.runName(context.Background(), "Object")
	require.NoError(t, err)
	assert.Equal(t, "object_20240501_123000_2", name)
}

func TestRecoverInterrupted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.runs.Create(ctx, &entities.TrainingRun{
		ModelType: "Object",
		RunName:   "object_20240101_000000",
		Outcome:   entities.RunOutcomePending,
		StartedAt: time.Now(),
	}))

	n, err := f.coordinator.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	run, err := f.runs.GetByRunName(ctx, "object_20240101_000000")
	require.NoError(t, err)
	assert.Equal(t, entities.RunOutcomeFailed, run.Outcome)
}

func TestHistoryUnknownType(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.coordinator.History(context.Background(), "Bird", 5)
	assert.ErrorIs(t, err, ErrConfiguration)
}
