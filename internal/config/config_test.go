package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/septivank/station-observation-ingestor/internal/partition"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("INGESTOR_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheduler.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", cfg.Scheduler.Concurrency)
	}
	if cfg.Scheduler.MinPassInterval.Duration() != 5*time.Minute {
		t.Errorf("MinPassInterval = %v, want 5m", cfg.Scheduler.MinPassInterval.Duration())
	}
	if cfg.Scheduler.ThrottleCooldown.Duration() != 30*time.Minute {
		t.Errorf("ThrottleCooldown = %v, want 30m", cfg.Scheduler.ThrottleCooldown.Duration())
	}
	if cfg.Scheduler.RefreshInterval.Duration() != 7*24*time.Hour {
		t.Errorf("RefreshInterval = %v, want 168h", cfg.Scheduler.RefreshInterval.Duration())
	}
	if cfg.Processor.SleepCeiling.Duration() != 20*time.Minute {
		t.Errorf("SleepCeiling = %v, want 20m", cfg.Processor.SleepCeiling.Duration())
	}
	if cfg.Bus.MaxMessageBytes != partition.DefaultMaxMessageSize {
		t.Errorf("MaxMessageBytes = %d, want %d", cfg.Bus.MaxMessageBytes, partition.DefaultMaxMessageSize)
	}
	if cfg.Directory.Attempts != -1 {
		t.Errorf("Directory.Attempts = %d, want -1", cfg.Directory.Attempts)
	}
}

func TestLoad_YAMLOverlayThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingestor.yaml")
	data := `
log_level: debug
checkpoint:
  backend: sqlite
  sqlite_path: /var/lib/ingestor/checkpoints.db
scheduler:
  concurrency: 8
  min_pass_interval: 2m
bus:
  backend: mqtt
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("INGESTOR_CONFIG_FILE", path)
	t.Setenv("SCHEDULER_CONCURRENCY", "4")
	t.Setenv("MQTT_BROKER", "broker.local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Checkpoint.Backend != BackendSQLite || cfg.Checkpoint.SQLitePath != "/var/lib/ingestor/checkpoints.db" {
		t.Errorf("Checkpoint = %+v", cfg.Checkpoint)
	}
	if cfg.Scheduler.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want env override 4", cfg.Scheduler.Concurrency)
	}
	if cfg.Scheduler.MinPassInterval.Duration() != 2*time.Minute {
		t.Errorf("MinPassInterval = %v, want 2m", cfg.Scheduler.MinPassInterval.Duration())
	}
	if cfg.Scheduler.ThrottleCooldown.Duration() != 30*time.Minute {
		t.Errorf("ThrottleCooldown = %v, want default 30m", cfg.Scheduler.ThrottleCooldown.Duration())
	}
	if err := cfg.RequireBus(); err != nil {
		t.Errorf("RequireBus() error = %v", err)
	}
}

func TestLoad_InvalidYAMLDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingestor.yaml")
	if err := os.WriteFile(path, []byte("scheduler:\n  min_pass_interval: soon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("INGESTOR_CONFIG_FILE", path)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected invalid duration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown checkpoint backend", func(c *Config) { c.Checkpoint.Backend = "redis" }, "CHECKPOINT_BACKEND"},
		{"unknown bus", func(c *Config) { c.Bus.Backend = "kafka" }, "BUS_BACKEND"},
		{"zero concurrency", func(c *Config) { c.Scheduler.Concurrency = 0 }, "SCHEDULER_CONCURRENCY"},
		{"zero message size", func(c *Config) { c.Bus.MaxMessageBytes = 0 }, "BUS_MAX_MESSAGE_BYTES"},
		{"zero pull attempts", func(c *Config) { c.Processor.PullAttempts = 0 }, "PROCESSOR_PULL_ATTEMPTS"},
		{"empty partition key", func(c *Config) { c.Checkpoint.PartitionKey = "" }, "CHECKPOINT_PARTITION_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestRequireCheckpoint(t *testing.T) {
	cfg := Defaults()
	if err := cfg.RequireCheckpoint(); err == nil {
		t.Error("expected DATABASE_URL error for postgres backend")
	}

	cfg.Checkpoint.Backend = BackendMemory
	if err := cfg.RequireCheckpoint(); err != nil {
		t.Errorf("memory backend needs no settings, got %v", err)
	}
}

func TestGetEnvAsDuration_FallsBackOnGarbage(t *testing.T) {
	t.Setenv("TEST_DURATION", "forever")
	if got := getEnvAsDuration("TEST_DURATION", Duration(time.Minute)); got.Duration() != time.Minute {
		t.Errorf("got %v, want 1m", got.Duration())
	}
}
