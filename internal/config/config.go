// Package config loads the lineage profile configuration.
//
// A profile is a YAML file naming the SQLite database, the object
// repository and runner settings. Missing sections keep their defaults and
// LINEAGE_* environment variables override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvDatabase   = "LINEAGE_DB"
	EnvRepository = "LINEAGE_REPOSITORY"
	EnvLogLevel   = "LINEAGE_LOG_LEVEL"
	EnvCaching    = "LINEAGE_CACHING"
)

// Config is a lineage profile.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Repository RepositoryConfig `yaml:"repository"`
	Caching    CachingConfig    `yaml:"caching"`
	Query      QueryConfig      `yaml:"query"`
	Runner     RunnerConfig     `yaml:"runner"`
	Transport  TransportConfig  `yaml:"transport"`
	Log        LogConfig        `yaml:"log"`
	Profile    ProfileConfig    `yaml:"profile"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RepositoryConfig locates the object store. An empty path keeps objects
// in memory.
type RepositoryConfig struct {
	Path string `yaml:"path"`
}

type CachingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Subtypes restricts caching to these node subtype prefixes.
	Subtypes []string `yaml:"subtypes,omitempty"`
}

type QueryConfig struct {
	BatchSize int `yaml:"batch_size"`
}

type RunnerConfig struct {
	MaxSteps int `yaml:"max_steps"`
}

type TransportConfig struct {
	SafeOpenInterval time.Duration `yaml:"safe_open_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ProfileConfig struct {
	UserEmail string `yaml:"user_email"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database:  DatabaseConfig{Path: "lineage.db"},
		Query:     QueryConfig{BatchSize: 100},
		Runner:    RunnerConfig{MaxSteps: 1000},
		Transport: TransportConfig{SafeOpenInterval: 5 * time.Second},
		Log:       LogConfig{Level: "info", Format: "text"},
		Profile:   ProfileConfig{UserEmail: "lineage@localhost"},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup(EnvRepository); ok && v != "" {
		c.Repository.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvCaching); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCaching, err)
		}
		c.Caching.Enabled = b
	}
	return nil
}

// Validate rejects settings the store or runner cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Query.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("query.batch_size must be positive, got %d", c.Query.BatchSize))
	}
	if c.Runner.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("runner.max_steps must be positive, got %d", c.Runner.MaxSteps))
	}
	if c.Transport.SafeOpenInterval < 0 {
		errs = append(errs, fmt.Errorf("transport.safe_open_interval must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Encode renders the configuration as YAML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
