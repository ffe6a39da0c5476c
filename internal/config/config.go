package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.homewire/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	APIBase        string `toml:"api_base"`
	WSBase         string `toml:"ws_base"`
	NotifyPollSecs int    `toml:"notify_poll_seconds"`
	UnreadSyncSecs int    `toml:"unread_sync_seconds"`
	PageSize       int    `toml:"page_size"`
}

// Defaults returns a config with every unset field filled in.
func (c *Config) Defaults() *Config {
	out := *c
	if out.APIBase == "" {
		out.APIBase = "https://api.homewire.app"
	}
	if out.WSBase == "" {
		out.WSBase = "wss://api.homewire.app"
	}
	if out.NotifyPollSecs <= 0 {
		out.NotifyPollSecs = 30
	}
	if out.UnreadSyncSecs <= 0 {
		out.UnreadSyncSecs = 60
	}
	if out.PageSize <= 0 {
		out.PageSize = 10
	}
	return &out
}

// NotifyPollInterval returns the notification poll interval as a duration.
func (c *Config) NotifyPollInterval() time.Duration {
	return time.Duration(c.NotifyPollSecs) * time.Second
}

// UnreadSyncInterval returns the unread reconciliation interval as a duration.
func (c *Config) UnreadSyncInterval() time.Duration {
	return time.Duration(c.UnreadSyncSecs) * time.Second
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
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
