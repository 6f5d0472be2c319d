package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_WritesJSONWithDefaultFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, err := NewLogger(Config{
		Level:      "debug",
		Format:     "json",
		OutputPath: path,
		Fields:     map[string]string{"service": "cmtemplate"},
	})
	require.NoError(t, err)

	logger.WithField("group", "acme").Info("group done")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "group done", entry["msg"])
	assert.Equal(t, "cmtemplate", entry["service"])
	assert.Equal(t, "acme", entry["group"])
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(Config{Level: "loud", OutputPath: filepath.Join(t.TempDir(), "x.log")})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

func TestWithFields_DoesNotMutateParent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := (&Logger{Logger: zap.New(core)}).WithField("run_id", "r1")

	child := base.WithFields(map[string]interface{}{"group": "acme"})
	child.LogDataQualityEvent("a.csv", "malformed_rows", 2)
	base.Info("parent")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "r1", ctx["run_id"])
	assert.Equal(t, "acme", ctx["group"])
	assert.Equal(t, "malformed_rows", ctx["issue"])
	assert.Equal(t, int64(2), ctx["count"])

	_, leaked := entries[1].ContextMap()["group"]
	assert.False(t, leaked)
}

func TestLogRunEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := &Logger{Logger: zap.New(core)}

	logger.LogRunEvent("run_finished", map[string]interface{}{"groups": 2})
	logger.LogPerformanceMetric("run_duration", 1.5, "seconds")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "run_finished", entries[0].ContextMap()["event"])
	assert.Equal(t, "seconds", entries[1].ContextMap()["unit"])
}
