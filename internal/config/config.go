package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the engine configuration file (config.toml).
type Config struct {
	// APIBaseURL is the base URL of the REST backend, e.g. "https://chat.example.com/api".
	APIBaseURL string `toml:"api_base_url"`
	// WSBaseURL is the base URL of the live channel, e.g. "wss://chat.example.com/ws".
	WSBaseURL string `toml:"ws_base_url"`
	// DataDir holds the message cache database and logs.
	DataDir string `toml:"data_dir"`
	// PageSize is the history page size.
	PageSize int `toml:"page_size"`
	// HeartbeatSeconds is the ping interval on the live channel.
	HeartbeatSeconds int `toml:"heartbeat_seconds"`
	// BackoffBaseMillis is the first reconnect delay.
	BackoffBaseMillis int `toml:"backoff_base_millis"`
	// BackoffCapMillis caps the reconnect delay.
	BackoffCapMillis int `toml:"backoff_cap_millis"`
}

// Default returns a config with production defaults applied.
func Default() *Config {
	return &Config{
		PageSize:          50,
		HeartbeatSeconds:  30,
		BackoffBaseMillis: 1000,
		BackoffCapMillis:  30000,
	}
}

// Load reads config from the given path. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Heartbeat returns the heartbeat interval as a duration.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// BackoffBase returns the initial reconnect delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}

// BackoffCap returns the maximum reconnect delay.
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMillis) * time.Millisecond
}
