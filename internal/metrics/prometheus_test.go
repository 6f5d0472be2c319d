package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordFile(t *testing.T) {
	rec := NewRecorder("metrics-test-group")
	before := testutil.ToFloat64(FilesProcessed.WithLabelValues("metrics-test-group", "ok"))

	rec.RecordFile("ok", 3, 10*time.Millisecond)
	rec.RecordFile("ok", 2, time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(FilesProcessed.WithLabelValues("metrics-test-group", "ok")))
	assert.Equal(t, float64(5), testutil.ToFloat64(SectionsParsed.WithLabelValues("metrics-test-group")))
}

func TestRecorder_IgnoresZeroCounts(t *testing.T) {
	rec := NewRecorder("metrics-zero-group")
	rec.RecordDiscarded("malformed", 0)
	rec.RecordContinuations(-1)
	rec.RecordDiscarded("orphan", 4)
	rec.RecordContinuations(2)

	assert.Equal(t, float64(0), testutil.ToFloat64(RowsDiscarded.WithLabelValues("metrics-zero-group", "malformed")))
	assert.Equal(t, float64(4), testutil.ToFloat64(RowsDiscarded.WithLabelValues("metrics-zero-group", "orphan")))
	assert.Equal(t, float64(2), testutil.ToFloat64(ContinuationsMerged.WithLabelValues("metrics-zero-group")))
}

func TestRecordTemplate(t *testing.T) {
	RecordTemplate("metrics-test-template", 4, 17)

	assert.Equal(t, float64(4), testutil.ToFloat64(TemplateSections.WithLabelValues("metrics-test-template")))
	assert.Equal(t, float64(17), testutil.ToFloat64(TemplateParameters.WithLabelValues("metrics-test-template")))
}

func TestWriteTextfile(t *testing.T) {
	RecordError("metrics-test", "io")
	path := filepath.Join(t.TempDir(), "cmdump.prom")

	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "cmdump_errors_total"))
}
