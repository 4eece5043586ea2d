package workspace

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgstriker/bbd-server/internal/conf"
)

func TestLayoutPaths(t *testing.T) {
	layout := NewLayout(&conf.WorkspaceSettings{
		Root:    "training_data",
		Runs:    "runs",
		Archive: "was_not_worth_it",
		Backups: "models_backup/",
	})

	assert.Equal(t, filepath.Join("training_data", "Object", "images"), layout.ImagesDir("Object"))
	assert.Equal(t, filepath.Join("training_data", "Object", "labels"), layout.LabelsDir("Object"))
	assert.Equal(t, filepath.Join("training_data", "Object", "dataset_auto.yaml"), layout.ManifestPath("Object"))
	assert.Equal(t, filepath.Join("runs", "Object", "object_1"), layout.RunDir("Object", "object_1"))
	assert.Equal(t, filepath.Join("was_not_worth_it", "Money", "money_1"), layout.ArchiveDir("Money", "money_1"))
	assert.Equal(t, filepath.Join("models_backup", "Money"), layout.BackupDir("Money"))
}

func TestAtomicWriteFileLeavesNoTempOnFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "weights.pt")
	require.NoError(t, os.WriteFile(target, []byte("old"), FilePermissions))

	errWrite := errors.New("disk on fire")
	err := AtomicWriteFile(target, FilePermissions, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errWrite
	})
	require.ErrorIs(t, err, errWrite)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be removed")
}

func TestCopyAndMoveFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	require.NoError(t, os.WriteFile(src, []byte("pixels"), FilePermissions))

	copied := filepath.Join(dir, "copy", "dst.jpg")
	require.NoError(t, CopyFile(ctx, src, copied))
	assert.FileExists(t, src)
	assert.FileExists(t, copied)

	moved := filepath.Join(dir, "moved", "dst.jpg")
	require.NoError(t, MoveFile(ctx, src, moved))
	assert.NoFileExists(t, src)
	assert.True(t, FileExists(moved))

	srcDigest, _, err := FileDigest(copied)
	require.NoError(t, err)
	dstDigest, size, err := FileDigest(moved)
	require.NoError(t, err)
	assert.Equal(t, srcDigest, dstDigest)
	assert.Equal(t, int64(6), size)
}

func TestCopyFileHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := CopyFile(ctx, "irrelevant", "irrelevant")
	require.ErrorIs(t, err, context.Canceled)
}

func TestMoveDirRefusesExistingDestination(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "run")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "weights"), DirPermissions))
	require.NoError(t, os.WriteFile(filepath.Join(src, "weights", "best.pt"), []byte("w"), FilePermissions))

	dst := filepath.Join(dir, "archive", "Object", "run")
	require.NoError(t, MoveDir(ctx, src, dst))
	assert.NoDirExists(t, src)
	assert.FileExists(t, filepath.Join(dst, "weights", "best.pt"))

	require.NoError(t, os.MkdirAll(src, DirPermissions))
	require.Error(t, MoveDir(ctx, src, dst))
}

func TestEnsureFreeSpace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureFreeSpace(filepath.Join(dir, "not", "yet", "created"), 1))
	require.NoError(t, EnsureFreeSpace(dir, 0))

	err := EnsureFreeSpace(dir, ^uint64(0))
	require.ErrorIs(t, err, ErrInsufficientSpace)
}

func TestDirExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "best.pt")
	require.NoError(t, os.WriteFile(file, []byte("w"), FilePermissions))

	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))
	assert.False(t, DirExists(filepath.Join(dir, "missing")))
	assert.False(t, FileExists(dir))
}
