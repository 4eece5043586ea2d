package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := RootCommand(&Context{Version: "test"})

	for _, name := range []string{"serve", "train", "backup", "status"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("debug"))
	assert.Equal(t, "test", root.Version)
}

func TestContextCloseWithoutLogger(t *testing.T) {
	t.Parallel()

	assert.NoError(t, (&Context{}).Close())
}
