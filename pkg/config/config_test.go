package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, MethodBatch, cfg.Method)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, 15000, cfg.BatchSizeLimit)
	assert.Equal(t, 10*time.Minute, cfg.Timeout.Std())
	assert.False(t, cfg.EvolveSchema)
	assert.Equal(t, "target_bigquery", cfg.Prefix())
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BQ_PROJECT", "acme-prod")

	path := writeConfig(t, `
project: ${TEST_BQ_PROJECT}
dataset: raw
method: gcs_stage
bucket: acme-staging
prefix_override: loads
threads: 4
timeout: 300
flush_interval: 30s
stage_compression: gzip
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme-prod", cfg.Project)
	assert.Equal(t, "raw", cfg.Dataset)
	assert.Equal(t, MethodGCSStage, cfg.Method)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 5*time.Minute, cfg.Timeout.Std())
	assert.Equal(t, 30*time.Second, cfg.FlushInterval.Std())
	assert.Equal(t, "loads", cfg.Prefix())
	assert.Equal(t, 15000, cfg.BatchSizeLimit, "unset fields keep defaults")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BQTARGET_PROJECT", "override-project")
	t.Setenv("BQTARGET_THREADS", "2")
	t.Setenv("BQTARGET_EVOLVE_SCHEMA", "true")
	t.Setenv("BQTARGET_TIMEOUT", "45s")
	t.Setenv("BQTARGET_METHOD", "streaming")

	path := writeConfig(t, "project: from-file\ndataset: raw\nthreads: 16\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "override-project", cfg.Project)
	assert.Equal(t, 2, cfg.Threads)
	assert.True(t, cfg.EvolveSchema)
	assert.Equal(t, 45*time.Second, cfg.Timeout.Std())
	assert.Equal(t, MethodStreaming, cfg.Method)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypeConfig))
}

func TestValidate(t *testing.T) {
	valid := func() *TargetConfig {
		cfg := Default()
		cfg.Project = "p"
		cfg.Dataset = "d"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*TargetConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*TargetConfig) {}},
		{name: "missing project", mutate: func(c *TargetConfig) { c.Project = "" }, wantErr: "project is required"},
		{name: "missing dataset", mutate: func(c *TargetConfig) { c.Dataset = "" }, wantErr: "dataset is required"},
		{name: "stage without bucket", mutate: func(c *TargetConfig) { c.Method = MethodGCSStage }, wantErr: "bucket is required"},
		{name: "unknown method", mutate: func(c *TargetConfig) { c.Method = "copy" }, wantErr: "unknown method"},
		{name: "zero threads", mutate: func(c *TargetConfig) { c.Threads = 0 }, wantErr: "threads must be positive"},
		{name: "zero batch size", mutate: func(c *TargetConfig) { c.BatchSizeLimit = 0 }, wantErr: "batch_size_limit must be positive"},
		{name: "zero timeout", mutate: func(c *TargetConfig) { c.Timeout = 0 }, wantErr: "timeout must be positive"},
		{name: "bad compression", mutate: func(c *TargetConfig) { c.StageCompression = "brotli" }, wantErr: "invalid stage_compression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, nebulaerrors.IsType(err, nebulaerrors.ErrorTypeConfig))
		})
	}
}

func TestDurationParsing(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"600", 10 * time.Minute},
		{"1.5", 1500 * time.Millisecond},
		{"2m30s", 150 * time.Second},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			require.NoError(t, d.UnmarshalJSON([]byte(`"`+tt.in+`"`)))
			assert.Equal(t, tt.want, d.Std())
		})
	}

	var d Duration
	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}
