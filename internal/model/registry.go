package model

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
)

// ErrUnknownType is returned for model types that are not configured.
var ErrUnknownType = errors.NewStd("unknown model type")

type entry struct {
	weightsPath string
	runPrefix   string
	slot        slot
	reloadMu    sync.Mutex // serializes reloads of one type
}

// Registry maps model types to their live weights and loaded handles.
type Registry struct {
	loader  Loader
	entries map[string]*entry
	log     logger.Logger
}

// NewRegistry creates a registry for the configured models. Nothing is loaded
// until LoadAll, Current or Reload is called.
func NewRegistry(models []conf.ModelSettings, loader Loader) *Registry {
	if loader == nil {
		loader = FileLoader{}
	}
	r := &Registry{
		loader:  loader,
		entries: make(map[string]*entry, len(models)),
		log:     GetLogger(),
	}
	for i := range models {
		r.entries[models[i].Name] = &entry{
			weightsPath: models[i].Weights,
			runPrefix:   models[i].RunPrefix(),
		}
	}
	return r
}

func (r *Registry) lookup(modelType string) (*entry, error) {
	e, ok := r.entries[modelType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, modelType)
	}
	return e, nil
}

// Has reports whether modelType is configured.
func (r *Registry) Has(modelType string) bool {
	_, ok := r.entries[modelType]
	return ok
}

// Types returns the configured model types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.entries))
	for name := range r.entries {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// WeightsPath returns the live weights path of a type.
func (r *Registry) WeightsPath(modelType string) (string, error) {
	e, err := r.lookup(modelType)
	if err != nil {
		return "", err
	}
	return e.weightsPath, nil
}

// RunPrefix returns the run name prefix of a type.
func (r *Registry) RunPrefix(modelType string) (string, error) {
	e, err := r.lookup(modelType)
	if err != nil {
		return "", err
	}
	return e.runPrefix, nil
}

// Current returns the loaded handle of a type, loading it on first use.
func (r *Registry) Current(ctx context.Context, modelType string) (*Handle, error) {
	e, err := r.lookup(modelType)
	if err != nil {
		return nil, err
	}
	if h := e.slot.load(); h != nil {
		return h, nil
	}
	return r.Reload(ctx, modelType)
}

// Reload loads the live weights of a type and publishes a new handle.
// On failure the previous handle stays current.
func (r *Registry) Reload(ctx context.Context, modelType string) (*Handle, error) {
	e, err := r.lookup(modelType)
	if err != nil {
		return nil, err
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	h, err := r.loader.Load(ctx, modelType, e.weightsPath)
	if err != nil {
		return nil, err
	}

	published := e.slot.store(h)
	r.log.Info("model loaded",
		logger.String("model_type", modelType),
		logger.Int64("version", int64(published.Version)),
		logger.String("digest", published.Digest),
		logger.Int("classes", len(published.Classes)))
	return published, nil
}

// LoadAll loads every configured type. Types whose weights file does not
// exist are logged and skipped; they load on first use once the file is in
// place. Every other failure is returned.
func (r *Registry) LoadAll(ctx context.Context) error {
	var errs []error
	for _, modelType := range r.Types() {
		_, err := r.Reload(ctx, modelType)
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist):
			r.log.Warn("model weights missing, type not loaded",
				logger.String("model_type", modelType),
				logger.Error(err))
		default:
			r.log.Error("model not loaded",
				logger.String("model_type", modelType),
				logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
