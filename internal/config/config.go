// Package config loads service configuration from file and environment, and
// automation agent definitions from a YAML manifest.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"foreman/internal/observability"
)

// TickConfig schedules one recurring tick event.
type TickConfig struct {
	Name     string         `mapstructure:"name"`
	Spec     string         `mapstructure:"spec"`
	Priority string         `mapstructure:"priority"`
	Payload  map[string]any `mapstructure:"payload"`
}

// Config is the full service configuration.
type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Bus struct {
		Capacity    int `mapstructure:"capacity"`
		MaxAttempts int `mapstructure:"max_attempts"`
		HistorySize int `mapstructure:"history_size"`
	} `mapstructure:"bus"`

	Orchestrator struct {
		HistorySize   int `mapstructure:"history_size"`
		MaxChainDepth int `mapstructure:"max_chain_depth"`
	} `mapstructure:"orchestrator"`

	Conversations struct {
		MaxSessions int           `mapstructure:"max_sessions"`
		TTL         time.Duration `mapstructure:"ttl"`
	} `mapstructure:"conversations"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Tracing observability.TracingConfig `mapstructure:"tracing"`

	Automation struct {
		ManifestPath string `mapstructure:"manifest_path"`
		RunRetention int    `mapstructure:"run_retention"`
	} `mapstructure:"automation"`

	Ticks []TickConfig `mapstructure:"ticks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("bus.capacity", 10000)
	v.SetDefault("bus.max_attempts", 3)
	v.SetDefault("bus.history_size", 1000)
	v.SetDefault("orchestrator.history_size", 1000)
	v.SetDefault("orchestrator.max_chain_depth", 5)
	v.SetDefault("conversations.max_sessions", 512)
	v.SetDefault("conversations.ttl", 30*time.Minute)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "foreman")
	v.SetDefault("automation.manifest_path", "")
	v.SetDefault("automation.run_retention", 100)
}

// Load reads configuration from the given file (optional) layered with
// FOREMAN_* environment variables over built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
