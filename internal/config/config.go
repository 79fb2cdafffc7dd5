// Package config provides configuration loading for the sync service.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a value is absent or unparseable.
const (
	DefaultMaxAttempts            = 3
	DefaultInitialBackoff         = 2 * time.Second
	DefaultVerifyAttempts         = 5
	DefaultVerifyBaseDelay        = 300 * time.Millisecond
	DefaultDiscoverAttempts       = 3
	DefaultDiscoverBaseDelay      = time.Second
	DefaultNotifyDiscoverAttempts = 2
	DefaultDeleteSettleDelay      = time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// DataDir is where local state lives. Defaults to ~/.aemtli-sync
	DataDir string `yaml:"dataDir,omitempty"`

	Remote RemoteConfig `yaml:"remote,omitempty"`
	Sync   SyncConfig   `yaml:"sync,omitempty"`
}

// RemoteConfig defines how to reach the record store
type RemoteConfig struct {
	// BaseURL is the record-store endpoint. Empty means the embedded
	// in-memory store, which is what tests and the dev server use.
	BaseURL string `yaml:"baseUrl,omitempty"`

	// Identity is the account identity to act as
	Identity string `yaml:"identity,omitempty"`

	// MaxAttempts bounds transient-error retries per operation
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// InitialBackoff is the first retry delay (e.g., "2s"); it doubles
	// with each subsequent attempt
	InitialBackoff string `yaml:"initialBackoff,omitempty"`
}

// SyncConfig defines the timing knobs of the sync controller
type SyncConfig struct {
	// VerifyAttempts is the number of post-save verification polls
	VerifyAttempts int `yaml:"verifyAttempts,omitempty"`

	// VerifyBaseDelay is the base wait of the verification poll; attempt
	// n waits n times this long (e.g., "300ms")
	VerifyBaseDelay string `yaml:"verifyBaseDelay,omitempty"`

	// DiscoverAttempts is the share discovery budget at startup
	DiscoverAttempts int `yaml:"discoverAttempts,omitempty"`

	// DiscoverBaseDelay is the base of the linear discovery backoff
	DiscoverBaseDelay string `yaml:"discoverBaseDelay,omitempty"`

	// NotifyDiscoverAttempts is the reduced discovery budget used when a
	// remote change ping arrives
	NotifyDiscoverAttempts int `yaml:"notifyDiscoverAttempts,omitempty"`

	// DeleteSettleDelay is the wait between a remote delete and the
	// refresh that follows it
	DeleteSettleDelay string `yaml:"deleteSettleDelay,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a configuration with every knob at its default
func DefaultConfig() *Config {
	return &Config{}
}

// GetDataDir returns the data directory, defaulting to ~/.aemtli-sync
func (c *Config) GetDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aemtli-sync"
	}
	return filepath.Join(home, ".aemtli-sync")
}

// GetMaxAttempts returns the retry budget per record-store operation
func (r *RemoteConfig) GetMaxAttempts() int {
	if r.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

// GetInitialBackoff returns the first retry delay
func (r *RemoteConfig) GetInitialBackoff() time.Duration {
	return durationOrDefault(r.InitialBackoff, DefaultInitialBackoff)
}

// GetVerifyAttempts returns the verification poll budget
func (s *SyncConfig) GetVerifyAttempts() int {
	if s.VerifyAttempts < 1 {
		return DefaultVerifyAttempts
	}
	return s.VerifyAttempts
}

// GetVerifyBaseDelay returns the base wait of the verification poll
func (s *SyncConfig) GetVerifyBaseDelay() time.Duration {
	return durationOrDefault(s.VerifyBaseDelay, DefaultVerifyBaseDelay)
}

// GetDiscoverAttempts returns the startup discovery budget
func (s *SyncConfig) GetDiscoverAttempts() int {
	if s.DiscoverAttempts < 1 {
		return DefaultDiscoverAttempts
	}
	return s.DiscoverAttempts
}

// GetDiscoverBaseDelay returns the base of the linear discovery backoff
func (s *SyncConfig) GetDiscoverBaseDelay() time.Duration {
	return durationOrDefault(s.DiscoverBaseDelay, DefaultDiscoverBaseDelay)
}

// GetNotifyDiscoverAttempts returns the discovery budget for change pings
func (s *SyncConfig) GetNotifyDiscoverAttempts() int {
	if s.NotifyDiscoverAttempts < 1 {
		return DefaultNotifyDiscoverAttempts
	}
	return s.NotifyDiscoverAttempts
}

// GetDeleteSettleDelay returns the wait after a remote delete
func (s *SyncConfig) GetDeleteSettleDelay() time.Duration {
	return durationOrDefault(s.DeleteSettleDelay, DefaultDeleteSettleDelay)
}

func durationOrDefault(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Remote.BaseURL != "" {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil {
			return fmt.Errorf("remote.baseUrl: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("remote.baseUrl: unsupported scheme %q", u.Scheme)
		}
	}
	if c.Remote.MaxAttempts < 0 {
		return fmt.Errorf("remote.maxAttempts must not be negative")
	}

	for _, field := range []struct {
		name, value string
	}{
		{"remote.initialBackoff", c.Remote.InitialBackoff},
		{"sync.verifyBaseDelay", c.Sync.VerifyBaseDelay},
		{"sync.discoverBaseDelay", c.Sync.DiscoverBaseDelay},
		{"sync.deleteSettleDelay", c.Sync.DeleteSettleDelay},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", field.name, field.value)
		}
	}

	return nil
}
