// Package config loads the mudcore YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"mudcore/internal/compiler"
	"mudcore/internal/persist"
)

// Config holds all mudcore configuration.
type Config struct {
	// Instance identity
	Name string `yaml:"name"`

	Compiler    CompilerConfig    `yaml:"compiler"`
	Logging     LoggingConfig     `yaml:"logging"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Watch       WatchConfig       `yaml:"watch"`

	// Modules compiled at startup
	Preload []string `yaml:"preload"`
}

// CompilerConfig configures the module compiler.
type CompilerConfig struct {
	// Directory holding game-object source
	SourceRoot string `yaml:"source_root"`

	// Standard packages game-object source may import
	AllowedImports []string `yaml:"allowed_imports"`

	// Per-compile timeout
	CompileTimeout string `yaml:"compile_timeout"`

	// Path prefix aliases, e.g. "~std" -> "/std"
	Aliases map[string]string `yaml:"aliases"`

	// Bound on concurrent compiles during preload
	PreloadWorkers int `yaml:"preload_workers"`
}

// PersistenceConfig configures the record database.
type PersistenceConfig struct {
	Driver string `yaml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
	Path   string `yaml:"path"`
}

// WatchConfig configures hot reload.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "mudcore",

		Compiler: CompilerConfig{
			SourceRoot:     "world",
			AllowedImports: append([]string(nil), compiler.DefaultAllowedImports...),
			CompileTimeout: "10s",
			Aliases:        map[string]string{},
			PreloadWorkers: 4,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},

		Persistence: PersistenceConfig{
			Driver: persist.DriverPure,
			Path:   "data/records.db",
		},

		Watch: WatchConfig{
			Enabled:  true,
			Debounce: "500ms",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults when the file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
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
	if root := os.Getenv("MUDCORE_SOURCE_ROOT"); root != "" {
		c.Compiler.SourceRoot = root
	}
	if path := os.Getenv("MUDCORE_DB"); path != "" {
		c.Persistence.Path = path
	}
	if level := os.Getenv("MUDCORE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetCompileTimeout returns the compile timeout as a duration.
func (c *Config) GetCompileTimeout() time.Duration {
	d, err := time.ParseDuration(c.Compiler.CompileTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetDebounce returns the watcher debounce as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// ValidDrivers lists the supported persistence drivers.
var ValidDrivers = []string{persist.DriverPure, persist.DriverCGO}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Compiler.SourceRoot == "" {
		return fmt.Errorf("compiler.source_root not configured (set MUDCORE_SOURCE_ROOT)")
	}
	if c.Compiler.CompileTimeout != "" {
		if _, err := time.ParseDuration(c.Compiler.CompileTimeout); err != nil {
			return fmt.Errorf("invalid compiler.compile_timeout %q: %w", c.Compiler.CompileTimeout, err)
		}
	}
	if c.Watch.Debounce != "" {
		if _, err := time.ParseDuration(c.Watch.Debounce); err != nil {
			return fmt.Errorf("invalid watch.debounce %q: %w", c.Watch.Debounce, err)
		}
	}

	validDriver := false
	for _, d := range ValidDrivers {
		if c.Persistence.Driver == d {
			validDriver = true
			break
		}
	}
	if !validDriver {
		return fmt.Errorf("invalid persistence driver: %s (valid: %v)", c.Persistence.Driver, ValidDrivers)
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}
	for alias, target := range c.Compiler.Aliases {
		if alias == "" || target == "" {
			return fmt.Errorf("invalid alias %q -> %q", alias, target)
		}
	}
	return nil
}
