package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pawmatch/pawsync/internal/config"
)

func TestDefault_HasSensibleValues(t *testing.T) {
	cfg := config.Default()

	if cfg.Node.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Node.Port)
	}
	if cfg.Node.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Node.Host)
	}
	if cfg.Node.DataDir != "./data" {
		t.Errorf("expected default data_dir ./data, got %s", cfg.Node.DataDir)
	}
	if cfg.Limits.MaxBatchSize != 100 {
		t.Errorf("expected default max_batch_size 100, got %d", cfg.Limits.MaxBatchSize)
	}
	if cfg.Limits.MaxMessageSizeKB != 64 {
		t.Errorf("expected default max_message_size_kb 64, got %d", cfg.Limits.MaxMessageSizeKB)
	}
	if cfg.Client.ProbeIntervalMs != 5_000 {
		t.Errorf("expected default probe_interval_ms 5000, got %d", cfg.Client.ProbeIntervalMs)
	}
	if cfg.Worker.Concurrency != 2 {
		t.Errorf("expected default worker concurrency 2, got %d", cfg.Worker.Concurrency)
	}
	if cfg.History.MaxDepth != 10 {
		t.Errorf("expected default history max_depth 10, got %d", cfg.History.MaxDepth)
	}
	if cfg.Auth.Enabled {
		t.Error("auth must be disabled by default")
	}
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("/tmp/pawsync_nonexistent_config_12345.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Node.Port != 8080 {
		t.Errorf("expected default port for missing file, got %d", cfg.Node.Port)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	yaml := `
node:
  port: 9999
  host: "127.0.0.1"
  data_dir: "/tmp/pawsync_test"
limits:
  max_batch_size: 25
client:
  endpoint: "https://sync.pawmatch.example"
  probe_interval_ms: 2000
worker:
  concurrency: 4
`
	path := writeTempYAML(t, yaml)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Node.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Node.Port)
	}
	if cfg.Node.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Node.Host)
	}
	if cfg.Limits.MaxBatchSize != 25 {
		t.Errorf("expected max_batch_size 25, got %d", cfg.Limits.MaxBatchSize)
	}
	if cfg.Client.Endpoint != "https://sync.pawmatch.example" {
		t.Errorf("expected overridden endpoint, got %s", cfg.Client.Endpoint)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("expected worker concurrency 4, got %d", cfg.Worker.Concurrency)
	}
	// Unset fields keep their defaults.
	if cfg.Limits.MaxMessageSizeKB != 64 {
		t.Errorf("expected default max_message_size_kb 64 (unchanged), got %d", cfg.Limits.MaxMessageSizeKB)
	}
	if cfg.History.MaxDepth != 10 {
		t.Errorf("expected default history max_depth 10 (unchanged), got %d", cfg.History.MaxDepth)
	}
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeTempYAML(t, "node: [invalid: yaml: {{{}}")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAWSYNC_AUTH_API_KEY", "env-key")
	t.Setenv("PAWSYNC_PORT", "7070")
	t.Setenv("PAWSYNC_ENDPOINT", "http://env.example:7070")

	cfg, err := config.Load("/tmp/pawsync_nonexistent_config_12345.yaml")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "env-key" {
		t.Errorf("expected auth enabled with env key, got %+v", cfg.Auth)
	}
	if cfg.Node.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.Node.Port)
	}
	if cfg.Client.Endpoint != "http://env.example:7070" {
		t.Errorf("expected env endpoint, got %s", cfg.Client.Endpoint)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := config.Default()
	cfg.Node.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for port 0")
	}

	cfg.Node.Port = 99999
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for port 99999")
	}
}

func TestValidate_EmptyDataDir(t *testing.T) {
	cfg := config.Default()
	cfg.Node.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty data_dir")
	}
}

func TestValidate_TinyProbeInterval(t *testing.T) {
	cfg := config.Default()
	cfg.Client.ProbeIntervalMs = 50
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for probe_interval_ms below 100")
	}
}

func TestValidate_ZeroBatchSize(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.MaxBatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero max_batch_size")
	}
}

func TestValidate_ZeroWorkerConcurrency(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.Concurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero worker concurrency")
	}
}

func TestValidate_ZeroHistoryDepth(t *testing.T) {
	cfg := config.Default()
	cfg.History.MaxDepth = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero history max_depth")
	}
}

// writeTempYAML writes content to a temp file and returns its path.
func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writeTempYAML: %v", err)
	}
	return path
}
