// Package config loads Scoundrel's operational configuration: a YAML file
// for non-secret knobs, with environment variables overriding it for
// secrets and endpoints, the same split the teacher node config uses
// between its YAML file and CLI-flag overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig holds embedded-database settings.
type StorageConfig struct {
	// DataDir is the directory holding the database file and artifact tree.
	DataDir string `yaml:"data_dir"`
}

// TargetListConfig holds target-list daemon settings.
type TargetListConfig struct {
	// Interval is milliseconds between ingestion ticks, or "OFF" to
	// disable the daemon entirely.
	Interval string `yaml:"interval"`
	// PruneIntervalMs is milliseconds between prune sweeps.
	PruneIntervalMs int64 `yaml:"prune_interval_ms"`
}

// SwapConfig holds swap-worker tuning knobs.
type SwapConfig struct {
	// ConfirmationTimeoutMs bounds how long the confirmation monitor
	// waits before returning "timeout".
	ConfirmationTimeoutMs int64 `yaml:"confirmation_timeout_ms"`
	// QuoteRatePerSecond limits quote requests against the aggregator.
	QuoteRatePerSecond float64 `yaml:"quote_rate_per_second"`
}

// PendingUUIDConfig holds the pending-uuid cleanup policy's tunables.
type PendingUUIDConfig struct {
	// MaxAgeMs is floored at 60000 (60s) regardless of what's configured.
	MaxAgeMs int64 `yaml:"max_age_ms"`
	// BatchSize is saved and loaded but not read by any component: the
	// target-list prune sweep always cleans up with a batch of 50000.
	BatchSize int `yaml:"batch_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	File   string `yaml:"file"`   // empty for stdout
}

// Config holds all of Scoundrel's non-secret operational configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	TargetList  TargetListConfig  `yaml:"target_list"`
	Swap        SwapConfig        `yaml:"swap"`
	PendingUUID PendingUUIDConfig `yaml:"pending_uuid"`
	Logging     LoggingConfig     `yaml:"logging"`

	// Secrets, populated from the environment by ApplyEnv, never
	// serialized to the YAML file.
	APIKey   string `yaml:"-"`
	RPCURL   string `yaml:"-"`
	AIAPIKey string `yaml:"-"`
}

// Environment variable names for secrets/endpoints, per spec §6.
const (
	envAPIKey   = "SCOUNDREL_API_KEY"
	envRPCURL   = "SCOUNDREL_RPC_URL"
	envAIAPIKey = "SCOUNDREL_AI_API_KEY"
	envLogLevel = "SCOUNDREL_LOG_LEVEL"
)

// ConfigFileName is the default config file name within DataDir.
const ConfigFileName = "config.yaml"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: "~/.scoundrel",
		},
		TargetList: TargetListConfig{
			Interval:        "60000",
			PruneIntervalMs: 30 * 60 * 1000,
		},
		Swap: SwapConfig{
			ConfirmationTimeoutMs: 120000,
			QuoteRatePerSecond:    5,
		},
		PendingUUID: PendingUUIDConfig{
			MaxAgeMs:  60 * 60 * 1000,
			BatchSize: 50000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from <dataDir>/config.yaml, creating it with
// defaults if it doesn't exist, then applies environment overrides.
func Load(dataDir string) (*Config, error) {
	expanded := expandPath(dataDir)
	path := filepath.Join(expanded, ConfigFileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("config: create default: %w", err)
		}
		cfg.ApplyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// Save writes the configuration to path as YAML, excluding secrets.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	header := []byte("# Scoundrel configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment-provided secrets and endpoints onto c, the
// same way CLI flags override the teacher's YAML config.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(envAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(envRPCURL); v != "" {
		c.RPCURL = v
	}
	if v := os.Getenv(envAIAPIKey); v != "" {
		c.AIAPIKey = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// ConfirmationTimeout returns Swap.ConfirmationTimeoutMs as a Duration.
func (c *Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.Swap.ConfirmationTimeoutMs) * time.Millisecond
}

// PendingUUIDMaxAge returns PendingUUID.MaxAgeMs as a Duration.
func (c *Config) PendingUUIDMaxAge() time.Duration {
	return time.Duration(c.PendingUUID.MaxAgeMs) * time.Millisecond
}

// PruneInterval returns TargetList.PruneIntervalMs as a Duration.
func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.TargetList.PruneIntervalMs) * time.Millisecond
}

// ConfigPath returns the full path to the config file for dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
