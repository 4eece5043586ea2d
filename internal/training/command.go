package training

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/smallnest/ringbuffer"

	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/errors"
	"github.com/xgstriker/bbd-server/internal/logger"
	"github.com/xgstriker/bbd-server/internal/workspace"
)

// outputTailSize is how much trailing command output is kept for error reports and logs.
const outputTailSize = 64 * 1024

// TrainLogFileName holds the trainer output tail inside the run directory.
const TrainLogFileName = "train.log"

// templateData is exposed to command argument templates.
type templateData struct {
	ModelType   string
	BaseWeights string
	Manifest    string
	Epochs      int
	ProjectDir  string
	RunName     string
	WorkDir     string
	Weights     string
}

// command is a parsed external command.
type command struct {
	path string
	args []*template.Template
	env  []string
}

func parseCommand(name string, settings conf.CommandSettings) (*command, error) {
	if settings.Path == "" {
		return nil, fmt.Errorf("%s command path is empty", name)
	}
	c := &command{path: settings.Path, env: settings.Env}
	for i, arg := range settings.Args {
		tmpl, err := template.New(fmt.Sprintf("%s-arg-%d", name, i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", name, i, err)
		}
		c.args = append(c.args, tmpl)
	}
	return c, nil
}

func (c *command) build(ctx context.Context, data *templateData) (*exec.Cmd, error) {
	args := make([]string, 0, len(c.args))
	for _, tmpl := range c.args {
		var sb strings.Builder
		if err := tmpl.Execute(&sb, data); err != nil {
			return nil, err
		}
		args = append(args, sb.String())
	}
	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Env = append(os.Environ(), c.env...)
	return cmd, nil
}

// tailWriter keeps the last bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	buf *ringbuffer.RingBuffer
}

func newTailWriter(size int) *tailWriter {
	return &tailWriter{buf: ringbuffer.New(size)}
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if capacity := t.buf.Capacity(); len(p) >= capacity {
		t.buf.Reset()
		p = p[len(p)-capacity:]
	} else if free := t.buf.Free(); len(p) > free {
		drop := make([]byte, len(p)-free)
		if _, err := t.buf.Read(drop); err != nil {
			return 0, err
		}
	}
	if _, err := t.buf.Write(p); err != nil {
		return 0, err
	}
	return n, nil
}

// String returns the kept output without consuming it.
func (t *tailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	length := t.buf.Length()
	if length == 0 {
		return ""
	}
	out := make([]byte, length)
	n, _ := t.buf.Read(out)
	out = out[:n]
	_, _ = t.buf.Write(out)
	return string(out)
}

// lastLine returns the last non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n\t "), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// commandError wraps a capability failure in kind. elapsed is recorded as
// timing context when the command actually ran.
func commandError(kind error, category errors.ErrorCategory, modelType, msg string, err error, output string, elapsed time.Duration) error {
	cause := fmt.Errorf("%s: %w", msg, err)
	if tail := lastLine(output); tail != "" {
		cause = fmt.Errorf("%s: %w (%s)", msg, err, tail)
	}
	b := errors.New(fmt.Errorf("%w: %w", kind, cause)).
		Component("training").
		Category(category).
		Context("model_type", modelType)
	if elapsed > 0 {
		operation := "evaluate"
		if errors.Is(kind, ErrTrainingFailed) {
			operation = "train"
		}
		b = b.Timing(operation, elapsed)
	}
	return b.Build()
}

// CommandTrainer runs an external training command such as the YOLO CLI.
type CommandTrainer struct {
	cmd         *command
	weightsGlob string
	log         logger.Logger
}

// NewCommandTrainer creates a trainer from settings. Argument templates may
// reference .ModelType .BaseWeights .Manifest .Epochs .ProjectDir .RunName and .WorkDir.
func NewCommandTrainer(settings *conf.TrainingSettings) (*CommandTrainer, error) {
	cmd, err := parseCommand("trainer", settings.Trainer)
	if err != nil {
		return nil, err
	}
	glob := settings.WeightsGlob
	if glob == "" {
		glob = conf.DefaultWeightsGlob
	}
	return &CommandTrainer{cmd: cmd, weightsGlob: glob, log: GetLogger().Module("trainer")}, nil
}

// Train implements Trainer. The command runs in ProjectDir and must leave
// weights matching the configured glob under WorkDir.
func (t *CommandTrainer) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	if err := os.MkdirAll(req.ProjectDir, workspace.DirPermissions); err != nil {
		return nil, commandError(ErrTrainingFailed, errors.CategoryFileIO, req.ModelType, "failed to create project directory", err, "", 0)
	}

	cmd, err := t.cmd.build(ctx, &templateData{
		ModelType:   req.ModelType,
		BaseWeights: req.BaseWeights,
		Manifest:    req.Manifest,
		Epochs:      req.Epochs,
		ProjectDir:  req.ProjectDir,
		RunName:     req.RunName,
		WorkDir:     req.WorkDir,
	})
	if err != nil {
		return nil, commandError(ErrTrainingFailed, errors.CategoryConfiguration, req.ModelType, "invalid trainer arguments", err, "", 0)
	}
	cmd.Dir = req.ProjectDir

	output := newTailWriter(outputTailSize)
	cmd.Stdout = output
	cmd.Stderr = output

	start := time.Now()
	t.log.Info("trainer started",
		logger.String("model_type", req.ModelType),
		logger.String("run", req.RunName),
		logger.String("command", cmd.Path))

	runErr := cmd.Run()
	t.saveLog(req, output.String())
	if runErr != nil {
		return nil, commandError(ErrTrainingFailed, errors.CategoryCommandExecution, req.ModelType, "trainer command failed", runErr, output.String(), time.Since(start))
	}

	weights, err := findWeights(req.WorkDir, t.weightsGlob)
	if err != nil {
		return nil, commandError(ErrTrainingFailed, errors.CategoryTraining, req.ModelType, "trained weights not found", err, "", 0)
	}

	t.log.Info("trainer finished",
		logger.String("model_type", req.ModelType),
		logger.String("run", req.RunName),
		logger.String("weights", weights),
		logger.Duration("duration", time.Since(start)))
	return &TrainResult{WeightsPath: weights}, nil
}

func (t *CommandTrainer) saveLog(req TrainRequest, output string) {
	if output == "" {
		return
	}
	if err := os.MkdirAll(req.WorkDir, workspace.DirPermissions); err != nil {
		t.log.Warn("cannot keep trainer output", logger.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(req.WorkDir, TrainLogFileName), []byte(output), workspace.FilePermissions); err != nil {
		t.log.Warn("cannot keep trainer output", logger.Error(err))
	}
}

// findWeights returns the newest file under dir matching pattern.
func findWeights(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}

	var newest string
	var newestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest, newestMod = m, info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no file matches %s", filepath.Join(dir, pattern))
	}
	return newest, nil
}

// CommandEvaluator runs an external scoring command. Its last stdout line is
// either a number or a JSON object with a numeric "metric" field.
type CommandEvaluator struct {
	cmd *command
	log logger.Logger
}

// NewCommandEvaluator creates an evaluator from settings. Argument templates
// may reference .Weights and .Manifest.
func NewCommandEvaluator(settings *conf.TrainingSettings) (*CommandEvaluator, error) {
	cmd, err := parseCommand("evaluator", settings.Evaluator)
	if err != nil {
		return nil, err
	}
	return &CommandEvaluator{cmd: cmd, log: GetLogger().Module("evaluator")}, nil
}

// Evaluate implements Evaluator.
func (e *CommandEvaluator) Evaluate(ctx context.Context, weightsPath, manifestPath string) (float64, error) {
	cmd, err := e.cmd.build(ctx, &templateData{Weights: weightsPath, Manifest: manifestPath})
	if err != nil {
		return 0, commandError(ErrEvaluationFailed, errors.CategoryConfiguration, "", "invalid evaluator arguments", err, "", 0)
	}

	stdout := newTailWriter(outputTailSize)
	stderr := newTailWriter(outputTailSize)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return 0, commandError(ErrEvaluationFailed, errors.CategoryCommandExecution, "", "evaluator command failed", err, stderr.String(), time.Since(start))
	}

	score, err := ParseScore(stdout.String())
	if err != nil {
		return 0, commandError(ErrEvaluationFailed, errors.CategoryEvaluation, "", "unreadable evaluator output", err, "", 0)
	}

	e.log.Debug("weights evaluated",
		logger.String("weights", weightsPath),
		logger.Float64("score", score))
	return score, nil
}

// ParseScore extracts the metric from evaluator output.
func ParseScore(output string) (float64, error) {
	line := lastLine(output)
	if line == "" {
		return 0, errors.NewStd("empty output")
	}
	if v, err := strconv.ParseFloat(line, 64); err == nil {
		return v, nil
	}

	obj, err := jason.NewObjectFromBytes([]byte(line))
	if err != nil {
		return 0, fmt.Errorf("last line is neither a number nor JSON: %q", line)
	}
	v, err := obj.GetFloat64("metric")
	if err != nil {
		return 0, fmt.Errorf("JSON output has no numeric metric: %w", err)
	}
	return v, nil
}
