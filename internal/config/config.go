// Package config loads evactor process configuration from an optional YAML
// file, then overrides it from EVACTOR_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultDatabase  = "evactor.db"
	DefaultWorkers   = 8
	DefaultSlots     = 8
	DefaultCacheTTL  = time.Hour
	DefaultLogFormat = "text"
)

// Config is the process configuration.
type Config struct {
	// Database is the SQLite file holding snapshots, events and the search
	// index.
	Database string `yaml:"database" env:"EVACTOR_DB"`

	// CacheDir is the badger cache directory. Empty keeps the cache in
	// memory.
	CacheDir string `yaml:"cache_dir" env:"EVACTOR_CACHE_DIR"`

	// CacheTTL bounds the life of cached entries.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"EVACTOR_CACHE_TTL"`

	// NodeID names this process in snapshot vectors. Default: hostname.
	NodeID string `yaml:"node_id" env:"EVACTOR_NODE_ID"`

	// Workers bounds concurrent fetches in FetchAll.
	Workers int `yaml:"workers" env:"EVACTOR_WORKERS"`

	// Slots bounds identities processed at once.
	Slots int `yaml:"slots" env:"EVACTOR_SLOTS"`

	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format" env:"EVACTOR_LOG_FORMAT"`

	// Trace selects the span exporter: "none" or "stdout".
	Trace string `yaml:"trace" env:"EVACTOR_TRACE"`

	// MetricsAddr is the listen address of the /metrics endpoint served by
	// `evactor serve`. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr" env:"EVACTOR_METRICS_ADDR"`

	// ActorsDir holds CUE actor manifests loaded next to the built-in
	// actors. Empty loads only the built-ins.
	ActorsDir string `yaml:"actors_dir" env:"EVACTOR_ACTORS_DIR"`
}

// Default returns the built-in configuration.
func Default() Config {
	node, err := os.Hostname()
	if err != nil || node == "" {
		node = "local"
	}
	return Config{
		Database:  DefaultDatabase,
		CacheTTL:  DefaultCacheTTL,
		NodeID:    node,
		Workers:   DefaultWorkers,
		Slots:     DefaultSlots,
		LogFormat: DefaultLogFormat,
		Trace:     "none",
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and then with the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos do not silently fall back to
// defaults.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.Database == "" {
		return errors.New("config: database is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Workers)
	}
	if c.Slots < 1 {
		return fmt.Errorf("config: slots must be positive, got %d", c.Slots)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("config: cache_ttl must not be negative, got %s", c.CacheTTL)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	switch c.Trace {
	case "none", "stdout":
	default:
		return fmt.Errorf("config: trace must be none or stdout, got %q", c.Trace)
	}
	return nil
}
