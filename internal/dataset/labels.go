package dataset

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

// ErrUndecodable marks an image skipped because its size could not be read.
var ErrUndecodable = errors.NewStd("image format not readable")

// Labelize writes one label file per migrated image under
// <workspace>/<type>/labels/<id>.txt and returns the images that got one.
// Class indices start from the deployed model's class list; names it does not
// know are appended in first-seen order. The resulting class map is also
// persisted in the type workspace.
//
// An image whose size cannot be read is skipped: its file is moved back to
// its source so the row and the file stay together for a later run.
func (a *Assembler) Labelize(ctx context.Context, modelType string, migrated []Migrated) (ClassMap, []Migrated, []Skipped, error) {
	handle, err := a.classes.Current(ctx, modelType)
	if err != nil {
		return ClassMap{}, nil, nil, datasetError(modelType, "failed to load deployed classes", err)
	}
	classes := NewClassMap(handle.Classes)
	deployed := classes.Len()

	labelsDir := a.layout.LabelsDir(modelType)
	if err := os.MkdirAll(labelsDir, workspace.DirPermissions); err != nil {
		return ClassMap{}, nil, nil, datasetError(modelType, "failed to create labels directory", err)
	}

	labeled := make([]Migrated, 0, len(migrated))
	var skipped []Skipped

	for _, m := range migrated {
		if err := ctx.Err(); err != nil {
			return ClassMap{}, nil, nil, err
		}

		labelPath := filepath.Join(labelsDir, strconv.FormatUint(uint64(m.Image.ID), 10)+workspace.LabelExtension)

		width, height, err := imageSize(m.Path)
		if err != nil {
			_ = os.Remove(labelPath)
			skipped = append(skipped, a.skipUndecodable(ctx, modelType, m, err))
			continue
		}

		objects, err := a.images.ObjectsForImage(ctx, m.Image.ID)
		if err != nil {
			return ClassMap{}, nil, nil, err
		}

		err = workspace.AtomicWriteFile(labelPath, workspace.FilePermissions, func(w io.Writer) error {
			for _, obj := range objects {
				if _, err := io.WriteString(w, LabelLine(classes.Index(obj.Name), obj, width, height)+"\n"); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return ClassMap{}, nil, nil, datasetError(modelType, "failed to write label file", err)
		}
		labeled = append(labeled, m)
	}

	if err := writeClassMap(filepath.Join(a.layout.TypeDir(modelType), ClassesFileName), classes); err != nil {
		return ClassMap{}, nil, nil, datasetError(modelType, "failed to write class map", err)
	}

	a.log.Info("labels written",
		logger.String("model_type", modelType),
		logger.Int("images", len(labeled)),
		logger.Int("skipped", len(skipped)),
		logger.Int("classes", classes.Len()),
		logger.Int("new_classes", classes.Len()-deployed))
	return classes, labeled, skipped, nil
}

func (a *Assembler) skipUndecodable(ctx context.Context, modelType string, m Migrated, cause error) Skipped {
	err := partialIngestion(m.Path, fmt.Errorf("%w: %w", ErrUndecodable, cause))

	if m.Source != "" && m.Source != m.Path {
		if moveErr := workspace.MoveFile(ctx, m.Path, m.Source); moveErr != nil {
			a.log.Warn("failed to return undecodable image to its source",
				logger.String("model_type", modelType),
				logger.Uint64("image_id", uint64(m.Image.ID)),
				logger.String("path", m.Path),
				logger.Error(moveErr))
		}
	}

	a.log.Warn("skipping image",
		logger.String("model_type", modelType),
		logger.Uint64("image_id", uint64(m.Image.ID)),
		logger.String("source", m.Source),
		logger.Error(err))
	if a.observer != nil {
		a.observer.ImageSkipped(modelType, "undecodable")
	}
	return Skipped{ImageID: m.Image.ID, Source: m.Source, Err: err}
}

// LabelLine formats one object as "idx xc yc w h", normalized by the image
// size and clamped to [0,1].
func LabelLine(classIndex int, obj *entities.DetectionObject, width, height int) string {
	w, h := float64(width), float64(height)
	x1, x2 := clamp(min(obj.X1, obj.X2), 0, w), clamp(max(obj.X1, obj.X2), 0, w)
	y1, y2 := clamp(min(obj.Y1, obj.Y2), 0, h), clamp(max(obj.Y1, obj.Y2), 0, h)

	var sb strings.Builder
	sb.WriteString(strconv.Itoa(classIndex))
	for _, v := range []float64{(x1 + x2) / 2 / w, (y1 + y2) / 2 / h, (x2 - x1) / w, (y2 - y1) / h} {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(clamp(v, 0, 1), 'f', 6, 64))
	}
	return sb.String()
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

func imageSize(path string) (width, height int, err error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("invalid image size %dx%d", cfg.Width, cfg.Height)
	}
	return cfg.Width, cfg.Height, nil
}
