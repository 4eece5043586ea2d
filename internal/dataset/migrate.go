package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xgstriker/bbd-server/internal/datastore/entities"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

const defaultExtension = ".jpg"

// ErrSourceMissing marks an image skipped because its file is gone.
var ErrSourceMissing = errors.NewStd("source image file not found")

// Migrated is an image whose file now lives in the type workspace.
type Migrated struct {
	Image  *entities.Image
	Path   string
	Source string
}

// Skipped is an image left out of the batch.
type Skipped struct {
	ImageID uint
	Source  string
	Err     error
}

// Migrate moves each claimed image to <workspace>/<type>/images/<id><ext> and
// removes the source. Images whose source is missing, or whose move fails, are
// logged and skipped without aborting the batch. An image whose source is
// missing but whose destination already exists, left there by an earlier
// failed run, is adopted as migrated.
func (a *Assembler) Migrate(ctx context.Context, modelType string, claims []*entities.Image) ([]Migrated, []Skipped, error) {
	if len(claims) == 0 {
		return nil, nil, nil
	}

	imagesDir := a.layout.ImagesDir(modelType)
	if err := os.MkdirAll(imagesDir, workspace.DirPermissions); err != nil {
		return nil, nil, datasetError(modelType, "failed to create images directory", err)
	}
	if a.config.MinFreeBytes > 0 {
		if err := workspace.EnsureFreeSpace(imagesDir, a.config.MinFreeBytes); err != nil {
			return nil, nil, err
		}
	}

	migrated := make([]Migrated, 0, len(claims))
	var skipped []Skipped

	for _, img := range claims {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		src := a.resolvePath(img.Path)
		dst := filepath.Join(imagesDir, strconv.FormatUint(uint64(img.ID), 10)+imageExtension(src, img.Extension))

		err := a.moveOne(ctx, src, dst)
		if err != nil {
			skipped = append(skipped, Skipped{ImageID: img.ID, Source: src, Err: err})
			reason := "move_failed"
			if errors.Is(err, ErrSourceMissing) {
				reason = "source_missing"
			}
			a.log.Warn("skipping image",
				logger.String("model_type", modelType),
				logger.Uint64("image_id", uint64(img.ID)),
				logger.String("source", src),
				logger.Error(err))
			if a.observer != nil {
				a.observer.ImageSkipped(modelType, reason)
			}
			continue
		}

		migrated = append(migrated, Migrated{Image: img, Path: dst, Source: src})
		if a.observer != nil {
			a.observer.ImageMigrated(modelType)
		}
	}

	a.log.Info("migration finished",
		logger.String("model_type", modelType),
		logger.Int("migrated", len(migrated)),
		logger.Int("skipped", len(skipped)))
	return migrated, skipped, nil
}

func (a *Assembler) moveOne(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		if !os.IsNotExist(err) {
			return partialIngestion(src, err)
		}
		if workspace.FileExists(dst) {
			return nil
		}
		return partialIngestion(src, ErrSourceMissing)
	}
	if err := workspace.MoveFile(ctx, src, dst); err != nil {
		return partialIngestion(src, err)
	}
	return nil
}

// resolvePath normalizes a stored path. Windows separators are accepted and
// relative paths are resolved against BaseDir.
func (a *Assembler) resolvePath(stored string) string {
	p := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(stored, `\`, "/")))
	if !filepath.IsAbs(p) && a.config.BaseDir != "" {
		p = filepath.Join(a.config.BaseDir, p)
	}
	return p
}

func imageExtension(src, stored string) string {
	if ext := filepath.Ext(src); ext != "" {
		return ext
	}
	if stored != "" {
		if !strings.HasPrefix(stored, ".") {
			stored = "." + stored
		}
		return stored
	}
	return defaultExtension
}

func partialIngestion(src string, err error) error {
	return errors.New(fmt.Errorf("image %s not migrated: %w", filepath.Base(src), err)).
		Component("dataset").
		Category(errors.CategoryPartialIngestion).
		FileContext(src, 0).
		Build()
}
