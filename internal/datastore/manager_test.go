package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/errors"
)

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "database.db")
	manager, err := Open(&conf.DatabaseSettings{Type: conf.DatabaseSQLite, SQLite: conf.SQLiteSettings{Path: path}})
	require.NoError(t, err)
	defer manager.Close()

	assert.False(t, manager.IsMySQL())
	assert.Equal(t, path, manager.Path())
	require.NoError(t, manager.Initialize([]string{"Object"}))
	assert.FileExists(t, path)
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(&conf.DatabaseSettings{Type: "postgres"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
