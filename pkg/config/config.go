// Package config defines the BigQuery target configuration, its defaults and
// validation, and how it is loaded from YAML files and the environment.
//
// # Loading
//
//	cfg, err := config.Load("target.yaml")
//
// The file may reference environment variables as ${NAME}. After the file is
// read, variables prefixed with BQTARGET_ override individual fields, e.g.
// BQTARGET_DATASET=staging or BQTARGET_THREADS=4.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/compression"
	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"gopkg.in/yaml.v3"
)

// Method selects the upload strategy
type Method string

const (
	// MethodStreaming inserts rows directly into the live table
	MethodStreaming Method = "streaming"
	// MethodBatch submits in-memory NDJSON as a load job
	MethodBatch Method = "batch"
	// MethodGCSStage writes NDJSON to Cloud Storage and loads from there
	MethodGCSStage Method = "gcs_stage"
)

const (
	// DefaultThreads is the default bound on in-flight upload jobs per stream
	DefaultThreads = 8
	// DefaultTimeout bounds every network wait
	DefaultTimeout = 10 * time.Minute
	// DefaultBatchSizeLimit is the record count that drains a batch
	DefaultBatchSizeLimit = 15000
	// DefaultPrefix is the staging object prefix when none is configured
	DefaultPrefix = "target_bigquery"
)

// Duration is a time.Duration that decodes from either a Go duration string
// ("90s", "10m") or a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	parsed, err := parseDuration(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConfig, "invalid duration").
			WithDetail("value", s)
	}
	return Duration(d), nil
}

// TargetConfig is the complete configuration of the target
type TargetConfig struct {
	// Warehouse location
	Project         string `yaml:"project" json:"project"`
	Dataset         string `yaml:"dataset" json:"dataset"`
	Location        string `yaml:"location" json:"location"`
	CredentialsPath string `yaml:"credentials_path" json:"credentials_path"`

	// Upload strategy
	Method           Method `yaml:"method" json:"method"`
	Bucket           string `yaml:"bucket" json:"bucket"`
	PrefixOverride   string `yaml:"prefix_override" json:"prefix_override"`
	StageCompression string `yaml:"stage_compression" json:"stage_compression"`

	// Batching and concurrency
	Threads        int      `yaml:"threads" json:"threads"`
	Timeout        Duration `yaml:"timeout" json:"timeout"`
	BatchSizeLimit int      `yaml:"batch_size_limit" json:"batch_size_limit"`
	FlushInterval  Duration `yaml:"flush_interval" json:"flush_interval"`

	// Experimental: widen live tables to the stream schema before loading
	EvolveSchema bool `yaml:"evolve_schema" json:"evolve_schema"`

	// Ambient
	LogLevel      string `yaml:"log_level" json:"log_level"`
	LogEncoding   string `yaml:"log_encoding" json:"log_encoding"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing"`
}

// Default returns a configuration with every default applied
func Default() *TargetConfig {
	return &TargetConfig{
		Method:         MethodBatch,
		Threads:        DefaultThreads,
		Timeout:        Duration(DefaultTimeout),
		BatchSizeLimit: DefaultBatchSizeLimit,
		LogLevel:       "info",
		LogEncoding:    "json",
		MetricsAddr:    ":9464",
	}
}

// Validate checks required fields and value ranges
func (c *TargetConfig) Validate() error {
	if c.Project == "" {
		return nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "project is required")
	}
	if c.Dataset == "" {
		return nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "dataset is required")
	}

	switch c.Method {
	case MethodStreaming, MethodBatch:
	case MethodGCSStage:
		if c.Bucket == "" {
			return nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "bucket is required").
				WithDetail("method", string(c.Method))
		}
	default:
		return nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "unknown method").
			WithDetail("method", string(c.Method))
	}

	if c.Threads <= 0 {
		return nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "threads must be positive").
			WithDetail("threads", c.Threads)
	}
	if c.BatchSizeLimit <= 0 {
		return nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "batch_size_limit must be positive").
			WithDetail("batch_size_limit", c.BatchSizeLimit)
	}
	if c.Timeout <= 0 {
		return nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "timeout must be positive")
	}
	if c.FlushInterval < 0 {
		return nebulaerrors.New(nebulaerrors.ErrorTypeConfig, "flush_interval must not be negative")
	}
	if _, err := compression.ParseAlgorithm(c.StageCompression); err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConfig, "invalid stage_compression")
	}

	return nil
}

// Prefix returns the staging object prefix
func (c *TargetConfig) Prefix() string {
	if c.PrefixOverride != "" {
		return c.PrefixOverride
	}
	return DefaultPrefix
}
