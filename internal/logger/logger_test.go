package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleLoggerWritesStructuredFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("training")

	log.Info("run finished",
		String("model_type", "Object"),
		Int("images", 2),
		Float64("metric", 0.823456),
		Bool("promoted", true),
		Error(errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "module=training")
	assert.Contains(t, out, "model_type=Object")
	assert.Contains(t, out, "images=2")
	assert.Contains(t, out, "metric=0.823")
	assert.Contains(t, out, "promoted=true")
	assert.Contains(t, out, "error=boom")
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn, time.UTC)

	log.Debug("hidden")
	log.Info("hidden")
	log.Log(LogLevelInfo, "hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestTraceLevelName(t *testing.T) {
	buf := &bytes.Buffer{}
	NewSlogLogger(buf, LogLevelTrace, time.UTC).Trace("sql query")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestWithAndSubModuleDoNotShareFields(t *testing.T) {
	buf := &bytes.Buffer{}
	parent := NewSlogLogger(buf, LogLevelInfo, time.UTC).Module("api")
	child := parent.With(String("request_id", "req-1")).Module("training")

	parent.Info("parent")
	child.Info("child")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "request_id")
	assert.Contains(t, lines[1], "request_id=req-1")
	assert.Contains(t, lines[1], "module=api.training")
}

func TestWithContextAddsTraceID(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.WithContext(WithTraceID(context.Background(), "abc-123")).Info("traced")
	assert.Contains(t, buf.String(), "trace_id=abc-123")
}

func TestCentralLoggerFileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"datastore": "error"},
	})
	require.NoError(t, err)

	cl.Module("backup").Info("backup created", String("model_type", "Money"))
	cl.Module("datastore").Info("suppressed")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "backup created", entry["msg"])
	assert.Equal(t, "backup", entry["module"])
	assert.Equal(t, "Money", entry["model_type"])
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)

	_, err = NewCentralLogger(nil)
	assert.Error(t, err)
}
