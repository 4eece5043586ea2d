package model

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

// ClassesSidecarSuffix is appended to a weights path to locate its class names.
const ClassesSidecarSuffix = ".names.yaml"

// Loader builds a Handle from a weights file.
type Loader interface {
	Load(ctx context.Context, modelType, weightsPath string) (*Handle, error)
}

// FileLoader reads the weights digest and the class names sidecar.
// A missing sidecar yields an empty class list.
type FileLoader struct{}

// Load implements Loader.
func (FileLoader) Load(ctx context.Context, modelType, weightsPath string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, size, err := workspace.FileDigest(weightsPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read weights: %w", err)).
			Component("model").
			Category(errors.CategoryFileIO).
			Context("model_type", modelType).
			FileContext(weightsPath, 0).
			Build()
	}

	classes, err := ReadClasses(weightsPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read class names: %w", err)).
			Component("model").
			Category(errors.CategoryFileIO).
			Context("model_type", modelType).
			Build()
	}

	return &Handle{
		ModelType:   modelType,
		WeightsPath: weightsPath,
		Digest:      digest,
		Size:        size,
		Classes:     classes,
		LoadedAt:    time.Now(),
	}, nil
}

// ReadClasses reads the class names sidecar of a weights file.
func ReadClasses(weightsPath string) ([]string, error) {
	data, err := os.ReadFile(weightsPath + ClassesSidecarSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var classes []string
	if err := yaml.Unmarshal(data, &classes); err != nil {
		return nil, fmt.Errorf("parse %s: %w", weightsPath+ClassesSidecarSuffix, err)
	}
	return classes, nil
}

// WriteClasses atomically writes the class names sidecar of a weights file.
func WriteClasses(weightsPath string, classes []string) error {
	return workspace.AtomicWriteFile(weightsPath+ClassesSidecarSuffix, workspace.FilePermissions, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(classes); err != nil {
			return err
		}
		return enc.Close()
	})
}
