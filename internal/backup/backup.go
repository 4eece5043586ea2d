package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

// TimestampFormat is the suffix appended to the weights stem.
const TimestampFormat = "20060102_150405"

const metadataExtension = ".json"

// WeightsLocator resolves the live weights path of a model type.
type WeightsLocator interface {
	WeightsPath(modelType string) (string, error)
}

// Metadata is written next to every snapshot as <name>.json.
type Metadata struct {
	ModelType string    `json:"model_type"`
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"sha256"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager takes weights snapshots into <backups>/<type>/.
type Manager struct {
	weights      WeightsLocator
	layout       workspace.Layout
	minFreeBytes uint64
	now          func() time.Time
	log          logger.Logger
}

// NewManager creates a backup manager.
func NewManager(weights WeightsLocator, layout workspace.Layout, minFreeBytes uint64) *Manager {
	return &Manager{
		weights:      weights,
		layout:       layout,
		minFreeBytes: minFreeBytes,
		now:          time.Now,
		log:          GetLogger(),
	}
}

// Backup copies the live weights of modelType to
// <backups>/<type>/<stem>_<YYYYmmdd_HHMMSS><ext> and returns the snapshot
// metadata. It fails if the live weights do not exist.
func (m *Manager) Backup(ctx context.Context, modelType string) (*Metadata, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, NewError(ErrCanceled, "backup operation cancelled", err)
	}

	source, err := m.weights.WeightsPath(modelType)
	if err != nil {
		return nil, NewError(ErrConfig, "cannot resolve live weights", err)
	}

	srcInfo, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, m.enhance(modelType, NewError(ErrNotFound, "live weights not found, nothing to back up", err))
		}
		return nil, m.enhance(modelType, NewError(ErrIO, "failed to stat live weights", err))
	}

	dir := m.layout.BackupDir(modelType)
	if err := os.MkdirAll(dir, workspace.DirPermissions); err != nil {
		return nil, m.enhance(modelType, NewError(ErrIO, "failed to create backup directory", err))
	}

	if required := max(m.minFreeBytes, uint64(srcInfo.Size())); required > 0 {
		if err := workspace.EnsureFreeSpace(dir, required); err != nil {
			return nil, m.enhance(modelType, NewError(ErrInsufficientSpace, "not enough space for backup", err))
		}
	}

	target, err := m.reserveName(dir, source)
	if err != nil {
		return nil, m.enhance(modelType, NewError(ErrIO, "failed to reserve backup name", err))
	}
	if err := workspace.CopyFile(ctx, source, target); err != nil {
		_ = os.Remove(target)
		return nil, m.enhance(modelType, NewError(ErrIO, "failed to copy live weights", err))
	}

	checksum, size, err := workspace.FileDigest(target)
	if err != nil {
		return nil, m.enhance(modelType, NewError(ErrIO, "failed to checksum backup", err))
	}
	if size != srcInfo.Size() {
		return nil, m.enhance(modelType, NewError(ErrCorruption,
			fmt.Sprintf("backup size mismatch: expected %d, got %d", srcInfo.Size(), size), nil))
	}

	meta := &Metadata{
		ModelType: modelType,
		Source:    source,
		Path:      target,
		Size:      size,
		Checksum:  checksum,
		Timestamp: m.now().UTC(),
	}
	err = workspace.AtomicWriteFile(metadataPath(target), workspace.FilePermissions, func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(meta)
	})
	if err != nil {
		return nil, m.enhance(modelType, NewError(ErrIO, "failed to write backup metadata", err))
	}

	m.log.Info("weights backed up",
		logger.String("model_type", modelType),
		logger.String("path", target),
		logger.Int64("size", size),
		logger.Duration("duration", time.Since(start)))
	return meta, nil
}

// reserveName claims an unused snapshot path by creating an empty file there
// with O_EXCL. The copy later replaces it. Two snapshots in the same second,
// from this process or another, get a numeric suffix rather than overwriting
// each other.
func (m *Manager) reserveName(dir, source string) (string, error) {
	base := filepath.Base(source)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := stem + "_" + m.now().Format(TimestampFormat)

	candidate := filepath.Join(dir, name+ext)
	for i := 1; ; i++ {
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, workspace.FilePermissions)
		if err == nil {
			return candidate, f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		candidate = filepath.Join(dir, name+"_"+strconv.Itoa(i)+ext)
	}
}

// List returns the snapshots of modelType, newest first. Snapshots whose
// metadata cannot be read are logged and skipped.
func (m *Manager) List(ctx context.Context, modelType string) ([]Metadata, error) {
	dir := m.layout.BackupDir(modelType)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewError(ErrIO, "failed to read backup directory", err)
	}

	var backups []Metadata
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, NewError(ErrCanceled, "listing cancelled", err)
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != metadataExtension {
			continue
		}

		meta, err := readMetadata(filepath.Join(dir, entry.Name()))
		if err != nil {
			m.log.Warn("skipping backup with unreadable metadata",
				logger.String("model_type", modelType),
				logger.String("file", entry.Name()),
				logger.Error(err))
			continue
		}
		backups = append(backups, *meta)
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].Timestamp.Equal(backups[j].Timestamp) {
			return backups[i].Path > backups[j].Path
		}
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Latest returns the newest snapshot of modelType.
func (m *Manager) Latest(ctx context.Context, modelType string) (*Metadata, error) {
	backups, err := m.List(ctx, modelType)
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, NewError(ErrNotFound, "no backups for "+modelType, nil)
	}
	return &backups[0], nil
}

func readMetadata(path string) (*Metadata, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var meta Metadata
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func metadataPath(snapshot string) string {
	return snapshot + metadataExtension
}

func (m *Manager) enhance(modelType string, err error) error {
	return errors.New(err).
		Component("backup").
		Category(errors.CategoryBackup).
		Context("model_type", modelType).
		Build()
}
