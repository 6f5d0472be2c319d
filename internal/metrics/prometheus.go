// Package metrics provides Prometheus metrics for template runs
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// File metrics
	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmdump_files_processed_total",
			Help: "Total number of export files processed",
		},
		[]string{"group", "status"},
	)

	ParseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cmdump_parse_duration_seconds",
			Help:    "Time taken to parse one export file",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"group"},
	)

	// Parse metrics
	SectionsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmdump_sections_parsed_total",
			Help: "Total number of sections parsed",
		},
		[]string{"group"},
	)

	RowsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmdump_rows_discarded_total",
			Help: "Rows dropped or repaired while parsing, by reason",
		},
		[]string{"group", "reason"},
	)

	ContinuationsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmdump_continuations_merged_total",
			Help: "Physical rows spliced into the previous logical row",
		},
		[]string{"group"},
	)

	// Template metrics
	TemplateSections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cmdump_template_sections",
			Help: "Number of sections in a master template",
		},
		[]string{"template"},
	)

	TemplateParameters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cmdump_template_parameters",
			Help: "Number of section parameters in a master template",
		},
		[]string{"template"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cmdump_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "type"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cmdump_run_duration_seconds",
			Help:    "Duration of complete template runs",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800},
		},
	)
)

// Recorder provides a convenient interface for recording metrics of one group
type Recorder struct {
	group string
}

// NewRecorder creates a new metrics recorder for a group
func NewRecorder(group string) *Recorder {
	return &Recorder{group: group}
}

// RecordFile records the outcome of parsing one file
func (m *Recorder) RecordFile(status string, sections int, duration time.Duration) {
	FilesProcessed.WithLabelValues(m.group, status).Inc()
	SectionsParsed.WithLabelValues(m.group).Add(float64(sections))
	ParseDuration.WithLabelValues(m.group).Observe(duration.Seconds())
}

// RecordDiscarded records rows dropped or repaired for a reason
func (m *Recorder) RecordDiscarded(reason string, count int) {
	if count <= 0 {
		return
	}
	RowsDiscarded.WithLabelValues(m.group, reason).Add(float64(count))
}

// RecordContinuations records merged continuation rows
func (m *Recorder) RecordContinuations(count int) {
	if count <= 0 {
		return
	}
	ContinuationsMerged.WithLabelValues(m.group).Add(float64(count))
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordTemplate records the size of a master template
func RecordTemplate(name string, sections, parameters int) {
	TemplateSections.WithLabelValues(name).Set(float64(sections))
	TemplateParameters.WithLabelValues(name).Set(float64(parameters))
}

// WriteTextfile dumps the default registry in text exposition format, for
// node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// Timer is a helper for measuring duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
