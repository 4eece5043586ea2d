package dataset

import (
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/xgstriker/bbd-server/internal/workspace"
)

// ClassesFileName holds the class map of the last labelize in a type workspace.
const ClassesFileName = "classes.yaml"

// ClassMap assigns stable indices to class names. Names keep the index they
// were first given; unseen names are appended.
type ClassMap struct {
	names []string
	index map[string]int
}

// NewClassMap seeds a class map with names in order. Duplicate names keep
// their first index.
func NewClassMap(names []string) ClassMap {
	cm := ClassMap{index: make(map[string]int, len(names))}
	for _, name := range names {
		cm.Index(name)
	}
	return cm
}

// Index returns the index of name, assigning the next free one if needed.
func (cm *ClassMap) Index(name string) int {
	if cm.index == nil {
		cm.index = make(map[string]int)
	}
	if idx, ok := cm.index[name]; ok {
		return idx
	}
	idx := len(cm.names)
	cm.names = append(cm.names, name)
	cm.index[name] = idx
	return idx
}

// Names returns the class names by index.
func (cm ClassMap) Names() []string {
	return append([]string(nil), cm.names...)
}

// Map returns a copy of the name -> index mapping.
func (cm ClassMap) Map() map[string]int {
	out := make(map[string]int, len(cm.index))
	for k, v := range cm.index {
		out[k] = v
	}
	return out
}

// Len returns the number of classes.
func (cm ClassMap) Len() int {
	return len(cm.names)
}

func writeClassMap(path string, cm ClassMap) error {
	return workspace.AtomicWriteFile(path, workspace.FilePermissions, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(cm.names); err != nil {
			return err
		}
		return enc.Close()
	})
}

// readClassMap loads a persisted class map. A missing file yields an empty map.
func readClassMap(path string) (ClassMap, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return ClassMap{}, nil
		}
		return ClassMap{}, err
	}
	var names []string
	if err := yaml.Unmarshal(data, &names); err != nil {
		return ClassMap{}, err
	}
	return NewClassMap(names), nil
}
