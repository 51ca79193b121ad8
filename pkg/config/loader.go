package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ajitpratap0/bqtarget/pkg/nebulaerrors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables that override file values
const EnvPrefix = "BQTARGET"

// Load reads the YAML file at filePath (if not empty) over the defaults,
// applies BQTARGET_* environment overrides and validates the result.
func Load(filePath string) (*TargetConfig, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", filePath)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg after substituting ${VAR} references
func Parse(data []byte, cfg *TargetConfig) error {
	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nebulaerrors.Wrap(err, nebulaerrors.ErrorTypeConfig, "failed to parse YAML")
	}
	return nil
}

// ApplyEnv overrides fields of cfg from BQTARGET_* environment variables
func ApplyEnv(cfg *TargetConfig) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	strs := map[string]*string{
		"project":           &cfg.Project,
		"dataset":           &cfg.Dataset,
		"location":          &cfg.Location,
		"credentials_path":  &cfg.CredentialsPath,
		"bucket":            &cfg.Bucket,
		"prefix_override":   &cfg.PrefixOverride,
		"stage_compression": &cfg.StageCompression,
		"log_level":         &cfg.LogLevel,
		"log_encoding":      &cfg.LogEncoding,
		"metrics_addr":      &cfg.MetricsAddr,
	}
	ints := map[string]*int{
		"threads":          &cfg.Threads,
		"batch_size_limit": &cfg.BatchSizeLimit,
	}
	bools := map[string]*bool{
		"evolve_schema":  &cfg.EvolveSchema,
		"enable_metrics": &cfg.EnableMetrics,
		"enable_tracing": &cfg.EnableTracing,
	}
	durations := map[string]*Duration{
		"timeout":        &cfg.Timeout,
		"flush_interval": &cfg.FlushInterval,
	}

	bind := func(key string) (bool, error) {
		if err := v.BindEnv(key); err != nil {
			return false, fmt.Errorf("bind %s: %w", key, err)
		}
		return v.IsSet(key), nil
	}

	for key, dst := range strs {
		set, err := bind(key)
		if err != nil {
			return err
		}
		if set {
			*dst = v.GetString(key)
		}
	}
	for key, dst := range ints {
		set, err := bind(key)
		if err != nil {
			return err
		}
		if set {
			*dst = v.GetInt(key)
		}
	}
	for key, dst := range bools {
		set, err := bind(key)
		if err != nil {
			return err
		}
		if set {
			*dst = v.GetBool(key)
		}
	}
	for key, dst := range durations {
		set, err := bind(key)
		if err != nil {
			return err
		}
		if set {
			d, err := parseDuration(v.GetString(key))
			if err != nil {
				return err
			}
			*dst = d
		}
	}

	set, err := bind("method")
	if err != nil {
		return err
	}
	if set {
		cfg.Method = Method(v.GetString("method"))
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
