// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "bbd-server"))
	}

	return append(paths, "/etc/bbd-server")
}
