package training

import (
	"context"
	"fmt"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/xgstriker/bbd-server/internal/dataset"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
)

// ManifestBuilder rebuilds the dataset manifest of a type.
type ManifestBuilder interface {
	BuildManifest(ctx context.Context, modelType string) (*dataset.Manifest, error)
}

// Decision is the result of comparing candidate weights with the incumbent.
type Decision struct {
	OldMetric float64
	NewMetric float64
	Promote   bool
}

// Gate scores the incumbent and candidate weights on the same dataset.
type Gate struct {
	evaluator Evaluator
	manifests ManifestBuilder
	parallel  int
	log       logger.Logger
}

// NewGate creates an evaluation gate. parallel bounds concurrent evaluator
// invocations; values below 1 evaluate sequentially.
func NewGate(evaluator Evaluator, manifests ManifestBuilder, parallel int) *Gate {
	return &Gate{
		evaluator: evaluator,
		manifests: manifests,
		parallel:  max(parallel, 1),
		log:       GetLogger().Module("gate"),
	}
}

// Decide rebuilds the manifest used for training, checks that it describes
// the same dataset, then evaluates both weights. The candidate is promoted
// only if it scores strictly higher; the incumbent wins ties.
func (g *Gate) Decide(ctx context.Context, modelType string, trained *dataset.Manifest, oldWeights, newWeights string) (*Decision, error) {
	rebuilt, err := g.manifests.BuildManifest(ctx, modelType)
	if err != nil {
		return nil, stageError(ErrEvaluationFailed, errors.CategoryEvaluation, modelType, err)
	}
	if !sameDataset(trained, rebuilt) {
		return nil, stageError(ErrEvaluationFailed, errors.CategoryEvaluation, modelType,
			fmt.Errorf("manifest changed since training (nc %d -> %d)", trained.NumClasses, rebuilt.NumClasses))
	}

	var oldScore, newScore float64
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.parallel)
	group.Go(func() (err error) {
		oldScore, err = g.score(gctx, "old", oldWeights, rebuilt.Path)
		return err
	})
	group.Go(func() (err error) {
		newScore, err = g.score(gctx, "new", newWeights, rebuilt.Path)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, stageError(ErrEvaluationFailed, errors.CategoryEvaluation, modelType, err)
	}

	d := &Decision{OldMetric: oldScore, NewMetric: newScore, Promote: newScore > oldScore}
	g.log.Info("evaluation finished",
		logger.String("model_type", modelType),
		logger.Float64("old_metric", oldScore),
		logger.Float64("new_metric", newScore),
		logger.Bool("promote", d.Promote))
	return d, nil
}

func (g *Gate) score(ctx context.Context, which, weights, manifest string) (float64, error) {
	v, err := g.evaluator.Evaluate(ctx, weights, manifest)
	if err != nil {
		return 0, fmt.Errorf("%s weights: %w", which, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s weights: metric is not finite", which)
	}
	return v, nil
}

func sameDataset(a, b *dataset.Manifest) bool {
	return a.Train == b.Train &&
		a.Val == b.Val &&
		a.NumClasses == b.NumClasses &&
		slices.Equal(a.Names, b.Names)
}
