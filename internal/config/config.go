// Package config loads the cookiescope workspace configuration from
// .cookiescope/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Dir is the per-workspace state directory.
const Dir = ".cookiescope"

// Config holds all cookiescope configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Store    StoreConfig    `yaml:"store"`
	Entities EntitiesConfig `yaml:"entities"`
	Logging  LoggingConfig  `yaml:"logging"`
	Report   ReportConfig   `yaml:"report"`
}

// BrowserConfig configures how the watcher reaches Chrome.
type BrowserConfig struct {
	// DebuggerURL connects to an already running browser. Empty means launch one.
	DebuggerURL       string   `yaml:"debugger_url"`
	Launch            []string `yaml:"launch"`
	Headless          bool     `yaml:"headless"`
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
	SessionStore      string   `yaml:"session_store"`
}

// StoreConfig configures the SQLite issue store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EntitiesConfig configures the third-party entity table. An empty path uses the
// table compiled into the binary.
type EntitiesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// ReportConfig configures issue aggregation and reporting.
type ReportConfig struct {
	IncludeFirstParty bool `yaml:"include_first_party"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    800,
			NavigationTimeout: "30s",
			SessionStore:      filepath.Join(Dir, "sessions.json"),
		},
		Store: StoreConfig{
			Path: filepath.Join(Dir, "issues.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Report: ReportConfig{
			IncludeFirstParty: true,
		},
	}
}

// DefaultPath returns the config file location for a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, Dir, "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
// Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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
	if url := os.Getenv("COOKIESCOPE_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}
	if path := os.Getenv("COOKIESCOPE_DB"); path != "" {
		c.Store.Path = path
	}
	if path := os.Getenv("COOKIESCOPE_ENTITIES"); path != "" {
		c.Entities.Path = path
	}
	if v := os.Getenv("COOKIESCOPE_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
}

// GetNavigationTimeout returns the navigation timeout as a duration.
func (c *Config) GetNavigationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Browser.NavigationTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validation errors.
var (
	ErrNoStorePath     = errors.New("store path not configured")
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrInvalidTimeout  = errors.New("invalid navigation timeout")
	ErrInvalidViewport = errors.New("invalid viewport")
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return ErrNoStorePath
	}

	validLevel := c.Logging.Level == ""
	for _, l := range ValidLogLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("%w: %s (valid: %v)", ErrInvalidLogLevel, c.Logging.Level, ValidLogLevels)
	}

	if c.Browser.NavigationTimeout != "" {
		if _, err := time.ParseDuration(c.Browser.NavigationTimeout); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTimeout, err)
		}
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidViewport, c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	return nil
}

// ResolvePath anchors a relative path at the workspace root.
func ResolvePath(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspace, path)
}
