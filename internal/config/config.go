// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host string `json:"host" yaml:"host"`
		Port int    `json:"port" yaml:"port"`
	} `json:"server" yaml:"server"`

	Repository Repository `json:"repository" yaml:"repository"`
	Locks      Locks      `json:"locks" yaml:"locks"`
	Authz      Authz      `json:"authz" yaml:"authz"`

	Environment string `json:"environment" yaml:"environment"` // dev, prod
	LogLevel    string `json:"log_level" yaml:"log_level"`     // debug, info, warn, error
}

// Repository configures how repositories are opened.
type Repository struct {
	// URL is the repository the server exposes (file:///path or mem://name).
	URL             string `json:"url" yaml:"url"`
	CacheSize       int    `json:"cache_size" yaml:"cache_size"`
	CompressMinSize int    `json:"compress_min_size" yaml:"compress_min_size"`
	// Symlinks disables symlink edits in commits when false.
	Symlinks *bool `json:"symlinks,omitempty" yaml:"symlinks,omitempty"`
}

// SymlinksEnabled reports whether commits may add or alter symlinks.
func (r Repository) SymlinksEnabled() bool {
	return r.Symlinks == nil || *r.Symlinks
}

type Locks struct {
	Backend   string `json:"backend" yaml:"backend"` // badger, redis
	RedisAddr string `json:"redis_addr" yaml:"redis_addr"`
	RedisDB   int    `json:"redis_db" yaml:"redis_db"`
}

type Authz struct {
	Deny []string `json:"deny" yaml:"deny"`
	// File holds deny rules that are reloaded when it changes.
	File string `json:"file" yaml:"file"`
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Default returns a configuration serving an in-memory repository.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func getConfigPath() string {
	env := os.Getenv("SVNLITE_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load reads a JSON or YAML configuration file, depending on its extension.
// An empty path falls back to config/config.<SVNLITE_ENV>.json.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	config.applyDefaults()
	if errs := Validate(&config); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3690
	}
	if c.Repository.URL == "" {
		c.Repository.URL = "mem://default"
	}
	if c.Repository.CacheSize == 0 {
		c.Repository.CacheSize = 1000
	}
	if c.Repository.CompressMinSize == 0 {
		c.Repository.CompressMinSize = 1024
	}
	if c.Locks.Backend == "" {
		c.Locks.Backend = "badger"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// Validate checks a Config for semantic correctness.
func Validate(cfg *Config) []string {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server port %d out of range", cfg.Server.Port))
	}
	if !strings.HasPrefix(cfg.Repository.URL, "file://") && !strings.HasPrefix(cfg.Repository.URL, "mem://") {
		errs = append(errs, fmt.Sprintf("repository url %q must use file:// or mem://", cfg.Repository.URL))
	}
	if cfg.Repository.CacheSize < 0 {
		errs = append(errs, "repository cache_size must not be negative")
	}

	switch cfg.Locks.Backend {
	case "badger":
	case "redis":
		if cfg.Locks.RedisAddr == "" {
			errs = append(errs, "locks: 'redis_addr' is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("locks: unknown backend %q", cfg.Locks.Backend))
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", cfg.LogLevel))
	}

	return errs
}
