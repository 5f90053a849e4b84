package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/orchestrator
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Scheduler.SweepInterval() != 60*time.Second {
		t.Errorf("SweepInterval = %v, want 60s", cfg.Scheduler.SweepInterval())
	}
	if cfg.Scheduler.DependencyTTLHours != 72 {
		t.Errorf("DependencyTTLHours = %d, want 72", cfg.Scheduler.DependencyTTLHours)
	}
	if cfg.Sender.BackoffBase() != time.Minute {
		t.Errorf("BackoffBase = %v, want 1m", cfg.Sender.BackoffBase())
	}
	if cfg.Sender.BackoffCap() != time.Hour {
		t.Errorf("BackoffCap = %v, want 1h", cfg.Sender.BackoffCap())
	}
	if cfg.SendTime.ClickWeight != 2.0 {
		t.Errorf("ClickWeight = %v, want 2.0", cfg.SendTime.ClickWeight)
	}
	if cfg.Database.URL != "postgres://localhost/orchestrator" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
scheduler:
  sweep_interval_seconds: 15
  claim_batch_size: 25
sender:
  default_max_retries: 5
send_time:
  horizon_hours: 48
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Scheduler.SweepInterval() != 15*time.Second {
		t.Errorf("SweepInterval = %v, want 15s", cfg.Scheduler.SweepInterval())
	}
	if cfg.Scheduler.ClaimBatchSize != 25 {
		t.Errorf("ClaimBatchSize = %d, want 25", cfg.Scheduler.ClaimBatchSize)
	}
	if cfg.Sender.DefaultMaxRetries != 5 {
		t.Errorf("DefaultMaxRetries = %d, want 5", cfg.Sender.DefaultMaxRetries)
	}
	if cfg.SendTime.Horizon() != 48*time.Hour {
		t.Errorf("Horizon = %v, want 48h", cfg.SendTime.Horizon())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://file/db
whatsapp:
  enabled: false
`)

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("WHATSAPP_BASE_URL", "https://wa.example")
	t.Setenv("WHATSAPP_API_KEY", "secret")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "30")

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("LoadFromEnv() error: %v", err)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("Database.URL = %q, env should win over file", cfg.Database.URL)
	}
	if !cfg.Redis.Enabled || cfg.Redis.URL != "redis://localhost:6379" {
		t.Errorf("Redis = %+v, want enabled via env", cfg.Redis)
	}
	if !cfg.WhatsApp.Enabled || cfg.WhatsApp.BaseURL != "https://wa.example" {
		t.Errorf("WhatsApp = %+v, want enabled via env", cfg.WhatsApp)
	}
	if cfg.Scheduler.SweepIntervalSeconds != 30 {
		t.Errorf("SweepIntervalSeconds = %d, want 30", cfg.Scheduler.SweepIntervalSeconds)
	}
}

func TestLoadFromEnv_NoFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFromEnv() error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
}
