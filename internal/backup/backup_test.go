package backup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

type staticWeights map[string]string

func (s staticWeights) WeightsPath(modelType string) (string, error) {
	p, ok := s[modelType]
	if !ok {
		return "", errors.NewStd("unknown model type")
	}
	return p, nil
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	weights := filepath.Join(root, "models", "object.pt")
	require.NoError(t, os.MkdirAll(filepath.Dir(weights), 0o755))
	require.NoError(t, os.WriteFile(weights, []byte("weights-v1"), 0o644))

	layout := workspace.NewLayout(&conf.WorkspaceSettings{
		Root:    filepath.Join(root, "training_data"),
		Runs:    filepath.Join(root, "runs"),
		Archive: filepath.Join(root, "archive"),
		Backups: filepath.Join(root, "models_backup"),
	})
	m := NewManager(staticWeights{"Object": weights}, layout, 0)
	m.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }
	return m, root
}

func TestBackupCreatesTimestampedCopy(t *testing.T) {
	t.Parallel()
	m, root := newTestManager(t)

	meta, err := m.Backup(context.Background(), "Object")
	require.NoError(t, err)

	expected := filepath.Join(root, "models_backup", "Object", "object_20250304_050607.pt")
	assert.Equal(t, expected, meta.Path)
	assert.Equal(t, int64(len("weights-v1")), meta.Size)
	assert.Len(t, meta.Checksum, 64)

	data, err := os.ReadFile(expected)
	require.NoError(t, err)
	assert.Equal(t, "weights-v1", string(data))
	assert.FileExists(t, expected+".json")
}

func TestBackupNeverOverwrites(t *testing.T) {
	t.Parallel()
	m, root := newTestManager(t)
	ctx := context.Background()

	first, err := m.Backup(ctx, "Object")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "models", "object.pt"), []byte("weights-v2"), 0o644))
	second, err := m.Backup(ctx, "Object")
	require.NoError(t, err)
	assert.NotEqual(t, first.Path, second.Path)

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "weights-v1", string(data))

	backups, err := m.List(ctx, "Object")
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, second.Path, backups[0].Path)

	latest, err := m.Latest(ctx, "Object")
	require.NoError(t, err)
	assert.Equal(t, second.Checksum, latest.Checksum)
}

func TestConcurrentBackupsInSameSecondKeepDistinctNames(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	// A second manager over the same directories, as the CLI runs beside the server.
	other := NewManager(m.weights, m.layout, 0)
	other.now = m.now

	const callers = 8
	paths := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		manager := m
		if i%2 == 1 {
			manager = other
		}
		wg.Go(func() {
			meta, err := manager.Backup(context.Background(), "Object")
			errs[i] = err
			if err == nil {
				paths[i] = meta.Path
			}
		})
	}
	wg.Wait()

	seen := make(map[string]bool, callers)
	for i := range callers {
		require.NoError(t, errs[i])
		assert.False(t, seen[paths[i]], "duplicate snapshot path %s", paths[i])
		seen[paths[i]] = true

		data, err := os.ReadFile(paths[i])
		require.NoError(t, err)
		assert.Equal(t, "weights-v1", string(data))
	}

	backups, err := m.List(context.Background(), "Object")
	require.NoError(t, err)
	assert.Len(t, backups, callers)
}

func TestBackupFailsWithoutLiveWeights(t *testing.T) {
	t.Parallel()
	m, root := newTestManager(t)
	require.NoError(t, os.Remove(filepath.Join(root, "models", "object.pt")))

	_, err := m.Backup(context.Background(), "Object")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
	assert.True(t, errors.IsCategory(err, errors.CategoryBackup))
	assert.NoDirExists(t, filepath.Join(root, "models_backup", "Object"))
}

func TestBackupUnknownType(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)

	_, err := m.Backup(context.Background(), "Money")
	assert.True(t, IsErrorCode(err, ErrConfig))
}

func TestListEmpty(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)

	backups, err := m.List(context.Background(), "Object")
	require.NoError(t, err)
	assert.Empty(t, backups)

	_, err = m.Latest(context.Background(), "Object")
	assert.True(t, IsNotFoundError(err))
}
