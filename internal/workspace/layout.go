// Package workspace owns the on-disk layout of the training pipeline and the
// file primitives used to move data through it.
//
//	<root>/<type>/images/<imageID><ext>    migrated training images
//	<root>/<type>/labels/<imageID>.txt     one label file per image
//	<root>/<type>/dataset_auto.yaml        dataset manifest
//	<runs>/<type>/<runName>/               trainer working directory
//	<archive>/<type>/<runName>/            rejected runs
//	<backups>/<type>/<stem>_<ts><ext>      weights snapshots
package workspace

import (
	"path/filepath"

	"github.com/xgstriker/bbd-server/internal/conf"
)

// File and directory names inside a type workspace.
const (
	ImagesDirName    = "images"
	LabelsDirName    = "labels"
	ManifestFileName = "dataset_auto.yaml"
	LabelExtension   = ".txt"
)

// Layout resolves pipeline paths. The zero value is not usable.
type Layout struct {
	root    string
	runs    string
	archive string
	backups string
}

// NewLayout builds a Layout from workspace settings.
func NewLayout(settings *conf.WorkspaceSettings) Layout {
	return Layout{
		root:    filepath.Clean(settings.Root),
		runs:    filepath.Clean(settings.Runs),
		archive: filepath.Clean(settings.Archive),
		backups: filepath.Clean(settings.Backups),
	}
}

// TypeDir is the per-type dataset workspace, wiped by cleanup.
func (l Layout) TypeDir(modelType string) string {
	return filepath.Join(l.root, modelType)
}

// ImagesDir holds migrated images for a type.
func (l Layout) ImagesDir(modelType string) string {
	return filepath.Join(l.TypeDir(modelType), ImagesDirName)
}

// LabelsDir holds label files for a type.
func (l Layout) LabelsDir(modelType string) string {
	return filepath.Join(l.TypeDir(modelType), LabelsDirName)
}

// ManifestPath is the dataset manifest for a type.
func (l Layout) ManifestPath(modelType string) string {
	return filepath.Join(l.TypeDir(modelType), ManifestFileName)
}

// RunsDir is the parent of all run directories for a type.
func (l Layout) RunsDir(modelType string) string {
	return filepath.Join(l.runs, modelType)
}

// RunDir is the trainer working directory of one run.
func (l Layout) RunDir(modelType, runName string) string {
	return filepath.Join(l.RunsDir(modelType), runName)
}

// ArchiveDir is where a rejected run is moved.
func (l Layout) ArchiveDir(modelType, runName string) string {
	return filepath.Join(l.archive, modelType, runName)
}

// BackupDir holds the weights snapshots of a type.
func (l Layout) BackupDir(modelType string) string {
	return filepath.Join(l.backups, modelType)
}
