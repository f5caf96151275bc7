// Package config manages kotoimi configuration. Values come from built-in
// defaults, an optional TOML file and KOTOIMI_* environment variables,
// in that order of precedence. Command-line flags are applied by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kilupskalvis/kotoimi/internal/store"
	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigFile  = "kotoimi.toml"
	EnvPrefix   = "KOTOIMI_"
	DefaultDB   = "kotoimi.db"
	DefaultPort = "127.0.0.1:8000"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
	Analysis AnalysisConfig `toml:"analysis"`
	Webhooks WebhookConfig  `toml:"webhooks"`

	path string // file the config was loaded from, if any
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Listen            string   `toml:"listen"`
	MaxRequestBody    int64    `toml:"max_request_body"`    // bytes
	RequestsPerMinute int      `toml:"requests_per_minute"` // per client IP, 0 disables
	ResearchToken     string   `toml:"research_token"`      // guards /research when set
	AllowedOrigins    []string `toml:"allowed_origins"`
}

// StorageConfig selects the submission store.
type StorageConfig struct {
	Backend string `toml:"backend"` // sqlite or bbolt
	Path    string `toml:"path"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or text
}

// AnalysisConfig tunes the research analyses.
type AnalysisConfig struct {
	Concurrency int `toml:"concurrency"`
}

// WebhookConfig lists URLs notified about new submissions.
type WebhookConfig struct {
	URLs []string `toml:"urls"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            DefaultPort,
			MaxRequestBody:    64 * 1024,
			RequestsPerMinute: 120,
			AllowedOrigins:    []string{"*"},
		},
		Storage: StorageConfig{
			Backend: store.BackendSQLite,
			Path:    DefaultDB,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Analysis: AnalysisConfig{
			Concurrency: 4,
		},
	}
}

// Load builds the configuration. An empty path reads ConfigFile from the
// working directory when it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = ConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from KOTOIMI_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}

	if v, ok := get("LISTEN"); ok {
		c.Server.Listen = v
	}
	if v, ok := get("MAX_REQUEST_BODY"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sMAX_REQUEST_BODY: %w", EnvPrefix, err)
		}
		c.Server.MaxRequestBody = n
	}
	if v, ok := get("REQUESTS_PER_MINUTE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sREQUESTS_PER_MINUTE: %w", EnvPrefix, err)
		}
		c.Server.RequestsPerMinute = n
	}
	if v, ok := get("RESEARCH_TOKEN"); ok {
		c.Server.ResearchToken = v
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = SplitList(v)
	}
	if v, ok := get("STORAGE_BACKEND"); ok {
		c.Storage.Backend = v
	}
	if v, ok := get("STORAGE_PATH"); ok {
		c.Storage.Path = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := get("ANALYSIS_CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sANALYSIS_CONCURRENCY: %w", EnvPrefix, err)
		}
		c.Analysis.Concurrency = n
	}
	if v, ok := get("WEBHOOK_URLS"); ok {
		c.Webhooks.URLs = SplitList(v)
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case store.BackendSQLite, store.BackendBbolt:
	default:
		return fmt.Errorf("invalid storage backend %q (must be sqlite or bbolt)", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Server.MaxRequestBody <= 0 {
		return fmt.Errorf("max_request_body must be positive")
	}
	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	if c.Analysis.Concurrency <= 0 {
		return fmt.Errorf("analysis concurrency must be positive")
	}
	return nil
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string {
	return c.path
}

// SaveTo writes the configuration as TOML.
func (c *Config) SaveTo(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	c.path = path
	return nil
}

// Initialize writes a default config file. It refuses to overwrite.
func Initialize(path string) (*Config, error) {
	if path == "" {
		path = ConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("config %s already exists", path)
	}

	cfg := Default()
	if err := cfg.SaveTo(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
