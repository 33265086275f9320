// Package config loads the process-wide startup configuration for
// topnwindowd: where the durable store lives, how operators are sized,
// and how the process logs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects and configures the KV backend.
type StoreConfig struct {
	// Backend is either "memory" or "bolt".
	Backend string `yaml:"backend"`
	// Path is the bbolt database file path; ignored for the memory
	// backend.
	Path string `yaml:"path"`
}

// DefaultCacheSize is applied to an operator whose config leaves
// cache_size unset.
const DefaultCacheSize = 1024

// OperatorConfig describes one Top-N operator instance to run.
type OperatorConfig struct {
	Name   string `yaml:"name"`
	Offset int    `yaml:"offset"`
	// Limit is the window size. It is ignored when Unbounded is set, which
	// selects the engine's nil-Limit case; a Limit of 0 is a zero-sized
	// window.
	Limit     int  `yaml:"limit"`
	Unbounded bool `yaml:"unbounded"`
	// CacheSize is the soft cap per managed cache; 0 selects
	// DefaultCacheSize.
	CacheSize int `yaml:"cache_size"`
}

// Config is the full process configuration, loaded once at startup.
type Config struct {
	Store     StoreConfig      `yaml:"store"`
	Operators []OperatorConfig `yaml:"operators"`
	LogLevel  string           `yaml:"log_level"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	for i := range cfg.Operators {
		if cfg.Operators[i].CacheSize == 0 {
			cfg.Operators[i].CacheSize = DefaultCacheSize
		}
	}
	return cfg, nil
}

// Validate checks the loaded config is internally consistent.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "bolt":
		if c.Store.Path == "" {
			return fmt.Errorf("config: store.path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if len(c.Operators) == 0 {
		return fmt.Errorf("config: at least one operator must be configured")
	}
	for _, op := range c.Operators {
		if op.Name == "" {
			return fmt.Errorf("config: operator missing a name")
		}
		if op.Offset < 0 {
			return fmt.Errorf("config: operator %s has negative offset %d", op.Name, op.Offset)
		}
		if !op.Unbounded && op.Limit < 0 {
			return fmt.Errorf("config: operator %s has negative limit %d", op.Name, op.Limit)
		}
		if op.Offset == 0 && !op.Unbounded && op.Limit == 0 {
			return fmt.Errorf("config: operator %s has offset and limit both zero", op.Name)
		}
		if op.CacheSize < 0 {
			return fmt.Errorf("config: operator %s has negative cache_size %d", op.Name, op.CacheSize)
		}
	}
	return nil
}
