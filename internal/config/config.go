package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/data-power-io/cmdump-templates/internal/dump"
	"gopkg.in/yaml.v3"
)

const (
	InputDir        = "CMDUMP_INPUT_DIR"
	OutputDir       = "CMDUMP_OUTPUT_DIR"
	Workers         = "CMDUMP_WORKERS"
	Extensions      = "CMDUMP_EXTENSIONS"
	Delimiter       = "CMDUMP_DELIMITER"
	Sentinel        = "CMDUMP_SENTINEL"
	InlineSeparator = "CMDUMP_INLINE_SEPARATOR"
	Encoding        = "CMDUMP_ENCODING"
	ExpandArchives  = "CMDUMP_EXPAND_ARCHIVES"
	ArrowDir        = "CMDUMP_ARROW_DIR"
	MetricsFile     = "CMDUMP_METRICS_FILE"
	LogLevel        = "CMDUMP_LOG_LEVEL"
	LogFormat       = "CMDUMP_LOG_FORMAT"

	S3Endpoint        = "CMDUMP_S3_ENDPOINT"
	S3AccessKeyID     = "CMDUMP_S3_ACCESS_KEY_ID"
	S3SecretAccessKey = "CMDUMP_S3_SECRET_ACCESS_KEY"
	S3Bucket          = "CMDUMP_S3_BUCKET"
	S3Prefix          = "CMDUMP_S3_PREFIX"
	S3UseSSL          = "CMDUMP_S3_USE_SSL"
	S3Region          = "CMDUMP_S3_REGION"

	PGHost           = "CMDUMP_PG_HOST"
	PGPort           = "CMDUMP_PG_PORT"
	PGDatabase       = "CMDUMP_PG_DATABASE"
	PGUsername       = "CMDUMP_PG_USERNAME"
	PGPassword       = "CMDUMP_PG_PASSWORD"
	PGSSLMode        = "CMDUMP_PG_SSLMODE"
	PGConnectTimeout = "CMDUMP_PG_CONNECT_TIMEOUT"
)

var envVars = []string{
	InputDir, OutputDir, Workers, Extensions, Delimiter, Sentinel, InlineSeparator,
	Encoding, ExpandArchives, ArrowDir, MetricsFile, LogLevel, LogFormat,
	S3Endpoint, S3AccessKeyID, S3SecretAccessKey, S3Bucket, S3Prefix, S3UseSSL, S3Region,
	PGHost, PGPort, PGDatabase, PGUsername, PGPassword, PGSSLMode, PGConnectTimeout,
}

type Config struct {
	values map[string]string
}

// Load reads the optional YAML file first, then lets the environment override it.
func Load(path string) (*Config, error) {
	cfg := &Config{
		values: make(map[string]string),
	}

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()
	return cfg, nil
}

// loadFromFile accepts a flat YAML mapping keyed by the environment names,
// with or without the CMDUMP_ prefix and in any case.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	for key, value := range raw {
		name := strings.ToUpper(key)
		if !strings.HasPrefix(name, "CMDUMP_") {
			name = "CMDUMP_" + name
		}
		if !isKnown(name) {
			return fmt.Errorf("unknown config key '%s' in %s", key, path)
		}
		switch v := value.(type) {
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			c.values[name] = strings.Join(parts, ",")
		case nil:
		default:
			c.values[name] = fmt.Sprint(v)
		}
	}
	return nil
}

func (c *Config) loadFromEnv() {
	for _, envVar := range envVars {
		if value := os.Getenv(envVar); value != "" {
			c.values[envVar] = value
		}
	}
}

func isKnown(name string) bool {
	for _, envVar := range envVars {
		if envVar == name {
			return true
		}
	}
	return false
}

// Set overrides a value, used for command-line flags
func (c *Config) Set(key, value string) {
	if value == "" {
		return
	}
	c.values[key] = value
}

func (c *Config) GetString(key, defaultValue string) string {
	if value, exists := c.values[key]; exists {
		return value
	}
	return defaultValue
}

func (c *Config) GetInt(key string, defaultValue int) int {
	if value, exists := c.values[key]; exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (c *Config) GetBool(key string, defaultValue bool) bool {
	if value, exists := c.values[key]; exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func (c *Config) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := c.values[key]; exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetList splits a comma separated value, dropping blanks
func (c *Config) GetList(key string, defaultValue []string) []string {
	value, exists := c.values[key]
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// ParseOptions returns the export syntax settings
func (c *Config) ParseOptions() (dump.Options, error) {
	opts := dump.DefaultOptions()

	if delim := c.GetString(Delimiter, ""); delim != "" {
		if delim == `\t` || delim == "tab" {
			delim = "\t"
		}
		r, size := utf8.DecodeRuneInString(delim)
		if size != len(delim) || r == utf8.RuneError {
			return dump.Options{}, fmt.Errorf("delimiter must be a single character, got '%s'", delim)
		}
		opts.Delimiter = r
	}
	opts.Sentinel = c.GetString(Sentinel, opts.Sentinel)
	opts.InlineSeparator = c.GetString(InlineSeparator, opts.InlineSeparator)
	opts.Encoding = c.GetString(Encoding, opts.Encoding)

	if opts.Sentinel == opts.InlineSeparator {
		return dump.Options{}, fmt.Errorf("sentinel and inline separator must differ")
	}
	return opts, nil
}

// WorkerCount returns the file parsing parallelism, at least one
func (c *Config) WorkerCount() int {
	n := c.GetInt(Workers, runtime.NumCPU())
	if n < 1 {
		n = 1
	}
	return n
}

// FileExtensions returns the accepted export file extensions, lower-cased with a leading dot
func (c *Config) FileExtensions() []string {
	exts := c.GetList(Extensions, []string{".csv"})
	for i, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[i] = ext
	}
	return exts
}

// S3Enabled reports whether object-store staging was configured
func (c *Config) S3Enabled() bool {
	return c.GetString(S3Bucket, "") != ""
}

func (c *Config) GetS3Config() map[string]string {
	return map[string]string{
		"endpoint":          c.GetString(S3Endpoint, ""),
		"access_key_id":     c.GetString(S3AccessKeyID, ""),
		"secret_access_key": c.GetString(S3SecretAccessKey, ""),
		"bucket":            c.GetString(S3Bucket, ""),
		"prefix":            c.GetString(S3Prefix, ""),
		"use_ssl":           c.GetString(S3UseSSL, "true"),
		"region":            c.GetString(S3Region, "us-east-1"),
	}
}

// StoreEnabled reports whether the PostgreSQL template store was configured
func (c *Config) StoreEnabled() bool {
	return c.GetString(PGHost, "") != "" && c.GetString(PGDatabase, "") != ""
}

func (c *Config) GetConnectionConfig() map[string]string {
	return map[string]string{
		"host":            c.GetString(PGHost, "localhost"),
		"port":            c.GetString(PGPort, "5432"),
		"database":        c.GetString(PGDatabase, ""),
		"username":        c.GetString(PGUsername, ""),
		"password":        c.GetString(PGPassword, ""),
		"sslmode":         c.GetString(PGSSLMode, "prefer"),
		"connect_timeout": c.GetString(PGConnectTimeout, "30s"),
	}
}

// ValidateS3Config validates required fields are present
func ValidateS3Config(config map[string]string) error {
	requiredFields := []string{"endpoint", "access_key_id", "secret_access_key", "bucket"}

	for _, field := range requiredFields {
		if value := config[field]; value == "" {
			return fmt.Errorf("required field '%s' is missing or empty", field)
		}
	}

	return nil
}
