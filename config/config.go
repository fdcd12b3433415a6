// Package config loads the daemon configuration from a YAML file with
// environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// DatabaseURL is a postgres connection string. Empty selects the
	// in-memory store (dev mode).
	DatabaseURL string `yaml:"database_url"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	Discovery  Discovery  `yaml:"discovery"`
	Enrichment Enrichment `yaml:"enrichment"`
	CLI        CLI        `yaml:"cli"`
}

// Duration wraps time.Duration so YAML accepts "5s" style strings and
// bare integers (seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("bad duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return fmt.Errorf("bad duration node at line %d", value.Line)
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Discovery struct {
	CycleInterval Duration `yaml:"cycle_interval"`
	ErrorBackoff  Duration `yaml:"error_backoff"`
	BatchSize     int      `yaml:"batch_size"`
}

type Enrichment struct {
	Concurrency int `yaml:"concurrency"`
	Attempts    int `yaml:"attempts"`
}

type CLI struct {
	CommandTimeout    Duration `yaml:"command_timeout"`
	PoolSize          int      `yaml:"pool_size"`
	DetailConcurrency int      `yaml:"detail_concurrency"`
	// ZeroTimestamp is the regex matching a device's null-timestamp
	// sentinel in event-history rows. Firmware-dependent.
	ZeroTimestamp string `yaml:"zero_timestamp"`
}

func Default() Config {
	return Config{
		MetricsAddr: ":9090",
		LogLevel:    "info",
		Discovery: Discovery{
			CycleInterval: Duration(5 * time.Second),
			ErrorBackoff:  Duration(30 * time.Second),
			BatchSize:     20,
		},
		Enrichment: Enrichment{
			Concurrency: 3,
			Attempts:    3,
		},
		CLI: CLI{
			CommandTimeout:    Duration(30 * time.Second),
			PoolSize:          8,
			DetailConcurrency: 5,
			ZeroTimestamp:     `^0000-00-00`,
		},
	}
}

// Load reads the file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.DatabaseURL = envOr("PONWATCH_DATABASE_URL", cfg.DatabaseURL)
	cfg.MetricsAddr = envOr("PONWATCH_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = envOr("PONWATCH_LOG_LEVEL", cfg.LogLevel)

	if _, err := cfg.ZeroTimestampPattern(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ZeroTimestampPattern compiles the configured sentinel regex.
func (c Config) ZeroTimestampPattern() (*regexp.Regexp, error) {
	re, err := regexp.Compile(c.CLI.ZeroTimestamp)
	if err != nil {
		return nil, fmt.Errorf("bad zero_timestamp pattern %q: %w", c.CLI.ZeroTimestamp, err)
	}
	return re, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
