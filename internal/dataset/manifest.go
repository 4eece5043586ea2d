package dataset

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

// Manifest describes a dataset to the trainer and evaluator.
//
// Train and Val both point at the same image directory. The evaluator
// therefore scores on training data; comparisons between runs stay valid
// because both models are scored on the same manifest.
type Manifest struct {
	Path       string   `yaml:"-"`
	Train      string   `yaml:"train"`
	Val        string   `yaml:"val"`
	NumClasses int      `yaml:"nc"`
	Names      []string `yaml:"-"`
}

// manifestFile is the on-disk form. yaml.v3 emits map keys sorted, so the
// output is deterministic.
type manifestFile struct {
	Train      string         `yaml:"train"`
	Val        string         `yaml:"val"`
	NumClasses int            `yaml:"nc"`
	Names      map[int]string `yaml:"names"`
}

// BuildManifest scans the emitted label files, not the database, for the
// highest class index and writes <workspace>/<type>/dataset_auto.yaml with
// nc = max+1 (0 without labels). Names come from the persisted class map;
// indices it does not cover are named by their number. Rebuilding from the
// same workspace yields identical bytes.
func (a *Assembler) BuildManifest(ctx context.Context, modelType string) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imagesDir, err := filepath.Abs(a.layout.ImagesDir(modelType))
	if err != nil {
		return nil, datasetError(modelType, "failed to resolve images directory", err)
	}

	maxIndex, err := maxClassIndex(a.layout.LabelsDir(modelType))
	if err != nil {
		return nil, datasetError(modelType, "failed to scan label files", err)
	}

	classes, err := readClassMap(filepath.Join(a.layout.TypeDir(modelType), ClassesFileName))
	if err != nil {
		return nil, datasetError(modelType, "failed to read class map", err)
	}
	known := classes.Names()

	m := &Manifest{
		Path:       a.layout.ManifestPath(modelType),
		Train:      filepath.ToSlash(imagesDir),
		Val:        filepath.ToSlash(imagesDir),
		NumClasses: maxIndex + 1,
		Names:      make([]string, maxIndex+1),
	}
	file := manifestFile{Train: m.Train, Val: m.Val, NumClasses: m.NumClasses, Names: make(map[int]string, m.NumClasses)}
	for i := range m.NumClasses {
		name := strconv.Itoa(i)
		if i < len(known) {
			name = known[i]
		}
		m.Names[i] = name
		file.Names[i] = name
	}

	err = workspace.AtomicWriteFile(m.Path, workspace.FilePermissions, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(file); err != nil {
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return nil, datasetError(modelType, "failed to write manifest", err)
	}

	a.log.Debug("manifest written",
		logger.String("model_type", modelType),
		logger.String("path", m.Path),
		logger.Int("classes", m.NumClasses))
	return m, nil
}

// maxClassIndex returns the highest class index across label files, or -1.
func maxClassIndex(labelsDir string) (int, error) {
	entries, err := os.ReadDir(labelsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return -1, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == workspace.LabelExtension {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	maxIndex := -1
	for _, name := range names {
		idx, err := scanLabelFile(filepath.Join(labelsDir, name))
		if err != nil {
			return -1, err
		}
		maxIndex = max(maxIndex, idx)
	}
	return maxIndex, nil
}

func scanLabelFile(path string) (int, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return -1, err
	}
	defer f.Close()

	maxIndex := -1
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			return -1, err
		}
		maxIndex = max(maxIndex, idx)
	}
	return maxIndex, scanner.Err()
}

// ReadManifest loads a manifest written by BuildManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var file manifestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	m := &Manifest{
		Path:       path,
		Train:      file.Train,
		Val:        file.Val,
		NumClasses: file.NumClasses,
		Names:      make([]string, file.NumClasses),
	}
	for i := range m.Names {
		m.Names[i] = file.Names[i]
	}
	return m, nil
}
