package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all codedesk configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Persistent store configuration
	Store StoreConfig `yaml:"store"`

	// Harness (coding agent sidecar) configuration
	Harness HarnessConfig `yaml:"harness"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the SQLite-backed persistent store.
type StoreConfig struct {
	// Path to the database file. Empty means <workspace>/.codedesk/codedesk.db.
	DatabasePath string `yaml:"database_path"`

	// busy_timeout pragma, as a duration string
	BusyTimeout string `yaml:"busy_timeout"`
}

// HarnessConfig configures the harness sidecar process and HTTP client.
type HarnessConfig struct {
	// Command used to spawn the harness server, e.g. "opencode"
	Command string `yaml:"command"`

	// Extra arguments appended after "serve"
	Args []string `yaml:"args"`

	// Hostname the harness binds to
	Hostname string `yaml:"hostname"`

	// Port for the harness server. 0 lets the harness pick one.
	Port int `yaml:"port"`

	// Per-request timeout for harness HTTP calls
	RequestTimeout string `yaml:"request_timeout"`

	// How long to wait for the harness to become reachable after spawn
	StartupTimeout string `yaml:"startup_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "codedesk",
		Version: "0.3.0",

		Store: StoreConfig{
			DatabasePath: "",
			BusyTimeout:  "5s",
		},

		Harness: HarnessConfig{
			Command:        "opencode",
			Hostname:       "127.0.0.1",
			Port:           0,
			RequestTimeout: "120s",
			StartupTimeout: "15s",
		},

		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("CODEDESK_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if cmd := os.Getenv("CODEDESK_HARNESS_CMD"); cmd != "" {
		c.Harness.Command = cmd
	}
	if host := os.Getenv("CODEDESK_HARNESS_HOST"); host != "" {
		c.Harness.Hostname = host
	}
}

// DefaultConfigPath returns the default path to .codedesk/config.yaml
// under the given workspace.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(workspace, ".codedesk", "config.yaml")
}

// DatabasePath resolves the database path for a workspace. An explicit
// database_path wins; otherwise the store lives under .codedesk/.
func (c *Config) DatabasePath(workspace string) string {
	if c.Store.DatabasePath != "" {
		return c.Store.DatabasePath
	}
	return filepath.Join(workspace, ".codedesk", "codedesk.db")
}

// GetBusyTimeout returns the sqlite busy_timeout as a duration.
func (c *Config) GetBusyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Store.BusyTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetRequestTimeout returns the harness per-request timeout as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Harness.RequestTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetStartupTimeout returns the harness startup timeout as a duration.
func (c *Config) GetStartupTimeout() time.Duration {
	d, err := time.ParseDuration(c.Harness.StartupTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Harness.Command == "" {
		return fmt.Errorf("harness command not configured")
	}
	if c.Harness.Hostname == "" {
		return fmt.Errorf("harness hostname not configured")
	}
	if c.Harness.Port < 0 || c.Harness.Port > 65535 {
		return fmt.Errorf("invalid harness port: %d", c.Harness.Port)
	}
	return nil
}
