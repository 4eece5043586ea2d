package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

// Reloader is invoked after the live weights of a type change.
type Reloader interface {
	Reload(ctx context.Context, modelType string) (*Handle, error)
}

// WeightsLocator resolves the live weights path of a type.
type WeightsLocator interface {
	WeightsPath(modelType string) (string, error)
}

// Promoter replaces live weights and triggers the type's reload hook.
type Promoter struct {
	weights  WeightsLocator
	reloader Reloader
	log      logger.Logger
}

// NewPromoter creates a Promoter. A *Registry satisfies both arguments.
func NewPromoter(weights WeightsLocator, reloader Reloader) *Promoter {
	return &Promoter{
		weights:  weights,
		reloader: reloader,
		log:      GetLogger().Module("promoter"),
	}
}

// Promote copies newWeights over the live weights of modelType as a single
// atomic replace, writes the class names sidecar, then reloads. If the reload
// fails the previous weights and sidecar are restored and an error returned.
func (p *Promoter) Promote(ctx context.Context, modelType, newWeights string, classes []string) (*Handle, error) {
	live, err := p.weights.WeightsPath(modelType)
	if err != nil {
		return nil, err
	}

	rollback, err := p.stashLive(ctx, live)
	if err != nil {
		return nil, promotionError(modelType, "failed to stash live weights", err)
	}
	defer rollback.discard()

	if err := workspace.CopyFile(ctx, newWeights, live); err != nil {
		return nil, promotionError(modelType, "failed to replace live weights", err)
	}
	if err := WriteClasses(live, classes); err != nil {
		p.restore(ctx, modelType, live, rollback)
		return nil, promotionError(modelType, "failed to write class names", err)
	}

	handle, err := p.reloader.Reload(ctx, modelType)
	if err != nil {
		p.restore(ctx, modelType, live, rollback)
		return nil, promotionError(modelType, "reload failed, previous weights restored", err)
	}

	p.log.Info("weights promoted",
		logger.String("model_type", modelType),
		logger.String("weights", live),
		logger.String("digest", handle.Digest))
	return handle, nil
}

type stash struct {
	weights string
	classes string
}

// stashLive copies the live weights and sidecar next to themselves so they can be restored.
func (p *Promoter) stashLive(ctx context.Context, live string) (*stash, error) {
	s := &stash{}
	if !workspace.FileExists(live) {
		return s, nil
	}

	dir := filepath.Dir(live)
	s.weights = filepath.Join(dir, "."+filepath.Base(live)+".rollback")
	if err := workspace.CopyFile(ctx, live, s.weights); err != nil {
		return nil, err
	}

	sidecar := live + ClassesSidecarSuffix
	if workspace.FileExists(sidecar) {
		s.classes = s.weights + ClassesSidecarSuffix
		if err := workspace.CopyFile(ctx, sidecar, s.classes); err != nil {
			s.discard()
			return nil, err
		}
	}
	return s, nil
}

func (s *stash) discard() {
	if s.weights != "" {
		os.Remove(s.weights)
	}
	if s.classes != "" {
		os.Remove(s.classes)
	}
}

func (p *Promoter) restore(ctx context.Context, modelType, live string, s *stash) {
	if s.weights == "" {
		return
	}
	// Restoring must not be cut short by the caller's context.
	ctx = context.WithoutCancel(ctx)
	if err := workspace.CopyFile(ctx, s.weights, live); err != nil {
		p.log.Error("failed to restore previous weights",
			logger.String("model_type", modelType),
			logger.Error(err))
		return
	}
	if s.classes != "" {
		if err := workspace.CopyFile(ctx, s.classes, live+ClassesSidecarSuffix); err != nil {
			p.log.Error("failed to restore previous class names",
				logger.String("model_type", modelType),
				logger.Error(err))
		}
	} else {
		os.Remove(live + ClassesSidecarSuffix)
	}
}

func promotionError(modelType, msg string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", msg, err)).
		Component("model").
		Category(errors.CategoryPromotion).
		Priority(errors.PriorityCritical).
		Context("model_type", modelType).
		Build()
}
