// Package logging provides structured logging utilities for template runs
package logging

import (
	"sort"

	"go.uber.org/zap"
)

// Logger wraps zap.Logger with run-specific helpers
type Logger struct {
	*zap.Logger
}

// Config holds logging configuration
type Config struct {
	Level       string            `json:"level" yaml:"level"`
	Format      string            `json:"format" yaml:"format"` // "json" or "console"
	OutputPath  string            `json:"output_path" yaml:"output_path"`
	Fields      map[string]string `json:"fields" yaml:"fields"`
	Development bool              `json:"development" yaml:"development"`
}

// NewLogger builds a zap logger from config. An unknown level falls back to info.
func NewLogger(config Config) (*Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if level, err := zap.ParseAtomicLevel(config.Level); err == nil {
		zapConfig.Level = level
	}
	zapConfig.Encoding = "json"
	if config.Format == "console" {
		zapConfig.Encoding = "console"
	}
	if config.OutputPath != "" {
		zapConfig.OutputPaths = []string{config.OutputPath}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	base := &Logger{Logger: logger}
	if len(config.Fields) == 0 {
		return base, nil
	}
	fields := make(map[string]interface{}, len(config.Fields))
	for k, v := range config.Fields {
		fields[k] = v
	}
	return base.WithFields(fields), nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(zap.Any(key, value))}
}

// WithFields adds fields to the logger context in key order
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	zapFields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zapFields = append(zapFields, zap.Any(k, fields[k]))
	}
	return &Logger{Logger: l.Logger.With(zapFields...)}
}

// LogRunEvent logs a run lifecycle event
func (l *Logger) LogRunEvent(event string, fields map[string]interface{}) {
	l.WithFields(fields).Info("Run event", zap.String("event", event))
}

func (l *Logger) LogPerformanceMetric(metric string, value interface{}, unit string) {
	l.Info("Performance metric",
		zap.String("type", "performance"),
		zap.String("metric", metric),
		zap.Any("value", value),
		zap.String("unit", unit))
}

// LogDataQualityEvent logs a recoverable input anomaly found in file
func (l *Logger) LogDataQualityEvent(file, issue string, count int) {
	l.Warn("Data quality issue",
		zap.String("type", "data_quality"),
		zap.String("file", file),
		zap.String("issue", issue),
		zap.Int("count", count))
}
