// Package config holds all configuration types and loading logic for PawSync.
// Config structure never shrinks — fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by the PawSync server and the
// client SDK. Either half may ignore the sections it does not use.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Limits  LimitsConfig  `yaml:"limits"`
	Client  ClientConfig  `yaml:"client"`
	Worker  WorkerConfig  `yaml:"worker"`
	History HistoryConfig `yaml:"history"`
	Auth    AuthConfig    `yaml:"auth"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// NodeConfig holds identity and network settings for the sync server.
type NodeConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first start.
	ID      string `yaml:"id"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// LimitsConfig caps what the server accepts in a single sync request.
type LimitsConfig struct {
	// MaxBatchSize is the maximum number of items per sync request.
	MaxBatchSize int `yaml:"max_batch_size"`
	// MaxMessageSizeKB caps the body size of a single message.
	MaxMessageSizeKB int `yaml:"max_message_size_kb"`
	// RateRPS and RateBurst tune the per-IP token bucket on the HTTP layer.
	RateRPS   float64 `yaml:"rate_rps"`
	RateBurst int     `yaml:"rate_burst"`
}

// ClientConfig holds settings for the client-side outbox and connectivity
// monitor.
type ClientConfig struct {
	// Endpoint is the base URL of the sync server.
	Endpoint string `yaml:"endpoint"`
	// ProbeIntervalMs is how often the connectivity monitor checks the
	// endpoint's health.
	ProbeIntervalMs int `yaml:"probe_interval_ms"`
}

// WorkerConfig tunes the background task worker used for image operations.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	TimeoutMs   int `yaml:"timeout_ms"`
}

// HistoryConfig tunes the edit-history undo stack.
type HistoryConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// AuthConfig controls API key authentication on the sync server.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      "auto",
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		Limits: LimitsConfig{
			MaxBatchSize:     100,
			MaxMessageSizeKB: 64,
			RateRPS:          100,
			RateBurst:        200,
		},
		Client: ClientConfig{
			Endpoint:        "http://localhost:8080",
			ProbeIntervalMs: 5_000,
		},
		Worker: WorkerConfig{
			Concurrency: 2,
			TimeoutMs:   30_000,
		},
		History: HistoryConfig{
			MaxDepth: 10,
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run PawSync with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	PAWSYNC_AUTH_API_KEY — sets auth.api_key and enables auth (auth.enabled = true)
//	PAWSYNC_DATA_DIR     — sets node.data_dir
//	PAWSYNC_PORT         — sets node.port
//	PAWSYNC_ENDPOINT     — sets client.endpoint
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PAWSYNC_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("PAWSYNC_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("PAWSYNC_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Node.Port = p
		}
	}
	if v := os.Getenv("PAWSYNC_ENDPOINT"); v != "" {
		cfg.Client.Endpoint = v
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.Port < 1 || c.Node.Port > 65535 {
		return errors.New("node.port must be between 1 and 65535")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	if c.Limits.MaxBatchSize < 1 {
		return errors.New("limits.max_batch_size must be at least 1")
	}
	if c.Limits.MaxMessageSizeKB < 1 {
		return errors.New("limits.max_message_size_kb must be at least 1")
	}
	if c.Limits.RateRPS <= 0 {
		return errors.New("limits.rate_rps must be positive")
	}
	if c.Limits.RateBurst < 1 {
		return errors.New("limits.rate_burst must be at least 1")
	}
	if c.Client.ProbeIntervalMs < 100 {
		return errors.New("client.probe_interval_ms must be at least 100")
	}
	if c.Worker.Concurrency < 1 {
		return errors.New("worker.concurrency must be at least 1")
	}
	if c.Worker.TimeoutMs < 1 {
		return errors.New("worker.timeout_ms must be at least 1")
	}
	if c.History.MaxDepth < 1 {
		return errors.New("history.max_depth must be at least 1")
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	return nil
}
