// Package config loads the application settings and job definitions.
//
// Application settings (logging, metrics, engine tuning, named databases)
// come from an optional YAML file, FEEDFLOW_* environment variables and
// defaults, merged by viper. Job definitions are separate YAML files
// decoded with yaml.v3 so that derived columns keep their written order.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/razeghi71/feedflow/metrics"
	"github.com/razeghi71/feedflow/metrics/datadog"
	"github.com/razeghi71/feedflow/metrics/prompush"
	"github.com/razeghi71/feedflow/refdb"
)

// Config holds the application settings.
type Config struct {
	Log       LogConfig           `mapstructure:"log"`
	Metrics   MetricsConfig       `mapstructure:"metrics"`
	Engine    EngineConfig        `mapstructure:"engine"`
	Databases map[string]Database `mapstructure:"databases"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig selects and configures the metrics backend.
type MetricsConfig struct {
	Backend        string   `mapstructure:"backend"` // none, prometheus or datadog
	PushgatewayURL string   `mapstructure:"pushgateway_url"`
	DatadogAddr    string   `mapstructure:"datadog_addr"`
	Namespace      string   `mapstructure:"namespace"`
	Tags           []string `mapstructure:"tags"`
	Job            string   `mapstructure:"job"`
}

// EngineConfig tunes stage execution.
type EngineConfig struct {
	Workers    int    `mapstructure:"workers"`
	JoinPrefix string `mapstructure:"join_prefix"`
}

// Database is a named connection that sql sources refer to.
type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Backend: "none",
			Job:     "feedflow",
		},
		Engine: EngineConfig{
			Workers:    1,
			JoinPrefix: "joined_",
		},
	}
}

// Default returns the built-in settings.
func Default() *Config {
	return defaultConfig()
}

// Load reads configuration from configPath, or from feedflow.yaml in the
// usual places when configPath is empty, then applies FEEDFLOW_*
// environment overrides (FEEDFLOW_LOG_LEVEL, FEEDFLOW_ENGINE_WORKERS, ...).
func Load(configPath string) (*Config, error) {
	v := viper.New()

	cfg := defaultConfig()
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)
	v.SetDefault("metrics.backend", cfg.Metrics.Backend)
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.datadog_addr", "")
	v.SetDefault("metrics.namespace", "")
	v.SetDefault("metrics.job", cfg.Metrics.Job)
	v.SetDefault("engine.workers", cfg.Engine.Workers)
	v.SetDefault("engine.join_prefix", cfg.Engine.JoinPrefix)

	v.SetEnvPrefix("FEEDFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("feedflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.feedflow")
		v.AddConfigPath("/etc/feedflow")

		// no config file is fine, defaults apply
		_ = v.ReadInConfig()
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configuration values are sensible.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers)
	}

	switch strings.ToLower(c.Metrics.Backend) {
	case "", "none":
	case "prometheus":
		if c.Metrics.PushgatewayURL == "" {
			return fmt.Errorf("metrics.pushgateway_url is required for the prometheus backend")
		}
	case "datadog":
		if c.Metrics.DatadogAddr == "" {
			return fmt.Errorf("metrics.datadog_addr is required for the datadog backend")
		}
	default:
		return fmt.Errorf("unknown metrics backend: %s", c.Metrics.Backend)
	}

	for name, db := range c.Databases {
		if err := refdb.Check(db.Driver, db.DSN); err != nil {
			return fmt.Errorf("databases.%s: %w", name, err)
		}
	}
	return nil
}

// NewBackend builds the configured metrics backend, or nil for none.
func (m MetricsConfig) NewBackend() (metrics.Backend, error) {
	switch strings.ToLower(m.Backend) {
	case "prometheus":
		b, err := prompush.NewBackend(m.Job, m.PushgatewayURL)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{Addr: m.DatadogAddr, Namespace: m.Namespace, Tags: m.Tags})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, nil
	}
}
