// Package config holds matchbox configuration: a YAML file under .matchbox/
// plus a handful of environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no --config flag is given.
const DefaultPath = ".matchbox/config.yaml"

// Config holds all matchbox configuration.
type Config struct {
	// Engine limits
	Engine EngineConfig `yaml:"engine"`

	// Ruleset store
	Store StoreConfig `yaml:"store"`

	// Trace index
	Audit AuditConfig `yaml:"audit"`

	// Extractor plugins
	Plugins PluginsConfig `yaml:"plugins"`

	// Ruleset search paths
	Rulesets RulesetsConfig `yaml:"rulesets"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig bounds a single Apply.
type EngineConfig struct {
	MaxDepth     int    `yaml:"max_depth"`
	MaxSteps     int    `yaml:"max_steps"`
	ApplyTimeout string `yaml:"apply_timeout"`
}

// StoreConfig configures the SQLite ruleset store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// AuditConfig configures the Datalog trace index.
type AuditConfig struct {
	FactLimit    int    `yaml:"fact_limit"`
	QueryTimeout string `yaml:"query_timeout"`
}

// PluginsConfig configures extractor plugin loading.
type PluginsConfig struct {
	Dir     string `yaml:"dir"`
	Enabled bool   `yaml:"enabled"`
}

// RulesetsConfig lists the directories searched for .match files.
type RulesetsConfig struct {
	Dirs []string `yaml:"dirs"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxDepth:     128,
			MaxSteps:     200000,
			ApplyTimeout: "10s",
		},
		Store: StoreConfig{
			Path: ".matchbox/matchbox.db",
		},
		Audit: AuditConfig{
			FactLimit:    100000,
			QueryTimeout: "5s",
		},
		Plugins: PluginsConfig{
			Dir:     ".matchbox/plugins",
			Enabled: true,
		},
		Rulesets: RulesetsConfig{
			Dirs: []string{".matchbox/rulesets"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file is not an
// error: defaults apply, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
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
	if path := os.Getenv("MATCHBOX_DB"); path != "" {
		c.Store.Path = path
	}
	if dir := os.Getenv("MATCHBOX_PLUGINS"); dir != "" {
		c.Plugins.Dir = dir
	}
	if level := os.Getenv("MATCHBOX_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetApplyTimeout returns the per-apply timeout as a duration.
func (c *Config) GetApplyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.ApplyTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetQueryTimeout returns the audit query timeout as a duration.
func (c *Config) GetQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Audit.QueryTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ValidLevels lists the accepted logging levels.
var ValidLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.MaxDepth <= 0 {
		return fmt.Errorf("engine.max_depth must be positive, got %d", c.Engine.MaxDepth)
	}
	if c.Engine.MaxSteps <= 0 {
		return fmt.Errorf("engine.max_steps must be positive, got %d", c.Engine.MaxSteps)
	}
	if c.Audit.FactLimit <= 0 {
		return fmt.Errorf("audit.fact_limit must be positive, got %d", c.Audit.FactLimit)
	}

	validLevel := false
	for _, l := range ValidLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid logging level: %s (valid: %v)", c.Logging.Level, ValidLevels)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s (valid: text, json)", c.Logging.Format)
	}

	return nil
}
