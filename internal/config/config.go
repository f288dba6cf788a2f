// Package config loads configuration from a YAML file with SS_* environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Limits  LimitsConfig  `yaml:"limits"`
	Group   GroupConfig   `yaml:"group"`
}

// IndexConfig controls where segments live and how documents are analyzed.
type IndexConfig struct {
	Dir            string   `yaml:"dir"`
	FlushThreshold int      `yaml:"flushThreshold"`
	TextFields     []string `yaml:"textFields"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LimitsConfig bounds position tree traversals.
type LimitsConfig struct {
	VisitBase   int `yaml:"visitBase"`
	PerPosition int `yaml:"perPosition"`
}

// GroupConfig holds the adaptive thresholds of the group aggregator. They
// affect throughput only.
type GroupConfig struct {
	BatchStart    float64 `yaml:"batchStart"`
	FrequentStart float64 `yaml:"frequentStart"`
	Growth        float64 `yaml:"growth"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Dir:            "./data",
			FlushThreshold: 1000,
			TextFields:     []string{"text"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		Limits: LimitsConfig{
			VisitBase:   1000,
			PerPosition: 10,
		},
		Group: GroupConfig{
			BatchStart:    1,
			FrequentStart: 5,
			Growth:        1.2,
		},
	}
}

// Validate rejects values that cannot work.
func (c *Config) Validate() error {
	if c.Index.Dir == "" {
		return fmt.Errorf("index.dir must be set")
	}
	if c.Index.FlushThreshold <= 0 {
		return fmt.Errorf("index.flushThreshold must be positive, got %d", c.Index.FlushThreshold)
	}
	if c.Limits.VisitBase < 0 || c.Limits.PerPosition < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.Group.Growth < 1 {
		return fmt.Errorf("group.growth must be >= 1, got %v", c.Group.Growth)
	}
	if c.Group.BatchStart < 1 || c.Group.FrequentStart < 1 {
		return fmt.Errorf("group thresholds must be >= 1")
	}
	return nil
}

// applyEnvOverrides reads SS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SS_INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("SS_INDEX_FLUSH_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.FlushThreshold = n
		}
	}
	if v := os.Getenv("SS_INDEX_TEXT_FIELDS"); v != "" {
		cfg.Index.TextFields = strings.Split(v, ",")
	}
	if v := os.Getenv("SS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SS_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("SS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("SS_LIMITS_VISIT_BASE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.VisitBase = n
		}
	}
	if v := os.Getenv("SS_LIMITS_PER_POSITION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.PerPosition = n
		}
	}
}
