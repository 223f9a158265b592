// Package config provides the configuration schema for the surftrail
// daemon: the local listener, the collection API credentials, the
// on-disk stores, and the timing knobs of the correlation pipeline.
package config

import (
	"os"
	"path/filepath"
)

// Config is the top-level configuration for the surftrail daemon.
type Config struct {
	// Server configures the local HTTP listener (bridge, metrics,
	// health, private mode).
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// API configures the remote collection API.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Store configures the local persistence paths.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Journal configures the local session journal.
	Journal JournalConfig `yaml:"journal" mapstructure:"journal"`

	// Hosts configures host-rule synchronization.
	Hosts HostsConfig `yaml:"hosts" mapstructure:"hosts"`

	// Session configures the correlation pipeline timing.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Heartbeat configures the liveness stamp interval.
	Heartbeat HeartbeatConfig `yaml:"heartbeat" mapstructure:"heartbeat"`

	// DevMode enables development features (verbose logging, relaxed
	// validation).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the local HTTP listener.
type ServerConfig struct {
	// ListenAddr is the address the daemon listens on. The bridge and
	// the control endpoints are local-only by design; binding beyond
	// localhost must be an explicit choice.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr" validate:"omitempty,hostname_port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// APIConfig configures the remote collection API.
type APIConfig struct {
	// BaseURL is the collection API root, e.g. "https://api.example.com".
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,http_url"`

	// Token is the account token sent on every request.
	Token string `yaml:"token" mapstructure:"token" validate:"required"`

	// Timeout is the per-request timeout (e.g. "10s").
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// StoreConfig configures the local persistence paths.
type StoreConfig struct {
	// Dir is the directory holding the session database and the state
	// file. Defaults to ~/.surftrail.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// DatabasePath returns the session database file path.
func (s StoreConfig) DatabasePath() string {
	return filepath.Join(s.Dir, "sessions.db")
}

// StatePath returns the daemon state file path.
func (s StoreConfig) StatePath() string {
	return filepath.Join(s.Dir, "state.json")
}

// PIDPath returns the daemon PID file path.
func (s StoreConfig) PIDPath() string {
	return filepath.Join(s.Dir, "surftrail.pid")
}

// JournalConfig configures the local session journal.
type JournalConfig struct {
	// Enabled turns the journal on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Dir is where journal files are written. Defaults to
	// <store.dir>/journal.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// RetentionDays is how many days of journal files to keep.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// MaxFileSizeMB is the rotation threshold per journal file.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`
}

// HostsConfig configures host-rule synchronization.
type HostsConfig struct {
	// SyncInterval is how often the rule catalogue version is checked
	// (e.g. "1h").
	SyncInterval string `yaml:"sync_interval" mapstructure:"sync_interval" validate:"omitempty,duration"`
}

// SessionConfig configures the correlation pipeline timing.
type SessionConfig struct {
	// Debounce suppresses duplicate window creations within this
	// window (e.g. "1s").
	Debounce string `yaml:"debounce" mapstructure:"debounce" validate:"omitempty,duration"`

	// StartupAttempts is how many times startup polls for a fresh
	// global session before giving up.
	StartupAttempts int `yaml:"startup_attempts" mapstructure:"startup_attempts" validate:"omitempty,min=1"`

	// StartupInterval is the delay between startup polls (e.g. "1s").
	StartupInterval string `yaml:"startup_interval" mapstructure:"startup_interval" validate:"omitempty,duration"`
}

// HeartbeatConfig configures the liveness stamp.
type HeartbeatConfig struct {
	// Interval is how often the state file is stamped (e.g. "10s").
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty,duration"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Local-only by default; network exposure must be explicit.
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1:8178"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.API.Timeout == "" {
		c.API.Timeout = "10s"
	}

	if c.Store.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Store.Dir = filepath.Join(home, ".surftrail")
		} else {
			c.Store.Dir = ".surftrail"
		}
	}

	if c.Journal.Dir == "" {
		c.Journal.Dir = filepath.Join(c.Store.Dir, "journal")
	}
	if c.Journal.RetentionDays == 0 {
		c.Journal.RetentionDays = 7
	}
	if c.Journal.MaxFileSizeMB == 0 {
		c.Journal.MaxFileSizeMB = 50
	}

	if c.Hosts.SyncInterval == "" {
		c.Hosts.SyncInterval = "1h"
	}

	if c.Session.Debounce == "" {
		c.Session.Debounce = "1s"
	}
	if c.Session.StartupAttempts == 0 {
		c.Session.StartupAttempts = 10
	}
	if c.Session.StartupInterval == "" {
		c.Session.StartupInterval = "1s"
	}

	if c.Heartbeat.Interval == "" {
		c.Heartbeat.Interval = "10s"
	}
}

// SetDevDefaults applies permissive defaults for development mode, so
// the daemon runs against a local mock API with minimal YAML. Applied
// before validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://127.0.0.1:8000"
	}
	if c.API.Token == "" {
		c.API.Token = "dev-token"
	}
	if c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}
}
