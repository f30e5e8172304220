// Package config loads and validates the ambient configuration for the
// indexing core: where the index file lives, how many scan workers to run,
// and the default ignore set applied to a fresh database.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the indexing core.
type Config struct {
	DatabasePath string `yaml:"database_path"`

	ScanWorkers    int `yaml:"scan_workers"`
	ScanQueueSize  int `yaml:"scan_queue_size"`
	ScanBatchSize  int `yaml:"scan_batch_size"`
	DebounceMillis int `yaml:"debounce_millis"`

	DBMaxOpenConns    int           `yaml:"db_max_open_conns"`
	DBMaxIdleConns    int           `yaml:"db_max_idle_conns"`
	DBConnMaxLifetime time.Duration `yaml:"db_conn_max_lifetime"`

	Roots          []string `yaml:"roots"`
	DefaultIgnores []string `yaml:"default_ignores"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// DefaultIgnorePatterns is the initial ignore set applied to a fresh index.
var DefaultIgnorePatterns = []string{
	"node_modules", ".git", ".svn", "__pycache__", ".pytest_cache",
	".venv", "venv", ".env", "dist", "build", ".next",
	".DS_Store", "Thumbs.db",
}

// Default returns a configuration with sane defaults for a single-host
// deployment.
func Default() *Config {
	return &Config{
		DatabasePath:      "/var/lib/filesearch/index.db",
		ScanWorkers:       4,
		ScanQueueSize:     4096,
		ScanBatchSize:     200,
		DebounceMillis:    100,
		DBMaxOpenConns:    25,
		DBMaxIdleConns:    5,
		DBConnMaxLifetime: 5 * time.Minute,
		Roots:             nil,
		DefaultIgnores:    append([]string(nil), DefaultIgnorePatterns...),
		LogLevel:          "info",
		LogJSON:           false,
	}
}

// Load reads a YAML configuration file at path, falling back to Default()
// if the file does not exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating its directory if necessary.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks that cfg describes a runnable configuration.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.ScanWorkers < 1 {
		return fmt.Errorf("scan_workers must be at least 1")
	}
	if c.ScanQueueSize < 1 {
		return fmt.Errorf("scan_queue_size must be at least 1")
	}
	if c.ScanBatchSize < 1 {
		return fmt.Errorf("scan_batch_size must be at least 1")
	}
	if c.DebounceMillis < 0 {
		return fmt.Errorf("debounce_millis cannot be negative")
	}
	if c.DBMaxOpenConns < 1 {
		return fmt.Errorf("db_max_open_conns must be at least 1")
	}
	if c.DBMaxIdleConns < 0 {
		return fmt.Errorf("db_max_idle_conns cannot be negative")
	}
	for _, r := range c.Roots {
		if !filepath.IsAbs(r) {
			return fmt.Errorf("root %q must be an absolute path", r)
		}
	}
	return nil
}
