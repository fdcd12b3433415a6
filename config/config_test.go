package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Discovery.CycleInterval.Std() != 5*time.Second || cfg.Discovery.ErrorBackoff.Std() != 30*time.Second {
		t.Errorf("discovery defaults wrong: %+v", cfg.Discovery)
	}
	if cfg.Enrichment.Concurrency != 3 || cfg.Enrichment.Attempts != 3 {
		t.Errorf("enrichment defaults wrong: %+v", cfg.Enrichment)
	}
	if cfg.CLI.PoolSize != 8 || cfg.CLI.DetailConcurrency != 5 {
		t.Errorf("cli defaults wrong: %+v", cfg.CLI)
	}
	if _, err := cfg.ZeroTimestampPattern(); err != nil {
		t.Errorf("default sentinel must compile: %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ponwatch.yaml")
	data := []byte(`
database_url: postgres://file/db
log_level: debug
discovery:
  cycle_interval: 10s
cli:
  zero_timestamp: "^1970-01-01"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PONWATCH_DATABASE_URL", "postgres://env/db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	// Env wins over the file.
	if cfg.DatabaseURL != "postgres://env/db" {
		t.Errorf("database_url = %q", cfg.DatabaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.Discovery.CycleInterval.Std() != 10*time.Second {
		t.Errorf("cycle_interval = %v", cfg.Discovery.CycleInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.Discovery.ErrorBackoff.Std() != 30*time.Second {
		t.Errorf("error_backoff = %v", cfg.Discovery.ErrorBackoff)
	}
	re, err := cfg.ZeroTimestampPattern()
	if err != nil || !re.MatchString("1970-01-01 00:00:00") {
		t.Errorf("sentinel pattern: %v %v", re, err)
	}
}

func TestLoadBadSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ponwatch.yaml")
	if err := os.WriteFile(path, []byte("cli:\n  zero_timestamp: '('\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unparseable sentinel must fail Load")
	}
}
