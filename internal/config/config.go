package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the ordersync engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Poller     PollerConfig     `yaml:"poller"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Store      StoreConfig      `yaml:"store"`
	Feed       FeedConfig       `yaml:"feed"`
}

// ServerConfig holds the marketplace backend endpoints.
type ServerConfig struct {
	WSURL   string `yaml:"ws_url"`   // Pub/sub endpoint (e.g., wss://api.chowlane.com/ws)
	RESTURL string `yaml:"rest_url"` // HTTP read/write base URL
	Token   string `yaml:"token"`    // Bearer credential; empty is allowed
}

// ConnectionConfig holds connection manager settings.
type ConnectionConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnects      int           `yaml:"max_reconnects"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
}

// PollerConfig holds the fallback polling loop settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WalletConfig holds wallet synchronizer settings.
type WalletConfig struct {
	// SettleDelay is waited before a post-transaction balance fetch to let the
	// server finish processing. A bounded wait, not a retry loop.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// StoreConfig holds local persistence settings.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file path; ":memory:" for ephemeral
}

// FeedConfig holds notification feed settings.
type FeedConfig struct {
	MaxItems int `yaml:"max_items"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
