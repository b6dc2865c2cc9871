// Package config loads the gateway configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Integrity modes.
const (
	ModeMarkers = "markers"
	ModeSealed  = "sealed"
)

// Defaults applied to fields left empty.
const (
	DefaultListen            = ":8080"
	DefaultKeyDir            = "keys"
	DefaultRateLimitRequests = 20
	DefaultRateLimitWindow   = 60 * time.Second
)

// Config is the gateway configuration.
type Config struct {
	Listen string `yaml:"listen"`

	// CatalogDir holds *.cue catalog files. Empty selects the embedded catalog.
	CatalogDir string `yaml:"catalog_dir"`

	Ledger    LedgerConfig    `yaml:"ledger"`
	Integrity IntegrityConfig `yaml:"integrity"`

	// MaxClockSkew bounds submission timestamps. Zero disables the check.
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// WatchConfig enables the config tamper watch. Default true.
	WatchConfig *bool `yaml:"watch_config"`

	// path is the file Load read, empty for Default.
	path string
}

// LedgerConfig selects the replay ledger backend.
type LedgerConfig struct {
	// Path of the SQLite ledger. Empty keeps the ledger in memory.
	Path string `yaml:"path"`
}

// IntegrityConfig selects the integrity stage.
type IntegrityConfig struct {
	Mode   string `yaml:"mode"`
	KeyDir string `yaml:"key_dir"`
}

// RateLimitConfig bounds submissions per client.
type RateLimitConfig struct {
	// Requests per window. Omitted means DefaultRateLimitRequests; an
	// explicit 0 disables rate limiting.
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := newConfig()
	c.applyDefaults()
	return c
}

// Load reads and validates the YAML file at path. Unknown keys are errors.
// Relative paths inside the file resolve against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := newConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.path = path
	cfg.resolvePaths(filepath.Dir(path))
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newConfig returns the decode target. Defaults that a zero value must be
// able to override are set here instead of in applyDefaults.
func newConfig() *Config {
	return &Config{RateLimit: RateLimitConfig{Requests: DefaultRateLimitRequests}}
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Watch reports whether the config tamper watch is enabled.
func (c *Config) Watch() bool {
	return c.WatchConfig == nil || *c.WatchConfig
}

func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.CatalogDir, &c.Ledger.Path, &c.Integrity.KeyDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Integrity.Mode == "" {
		c.Integrity.Mode = ModeMarkers
	}
	if c.Integrity.KeyDir == "" {
		c.Integrity.KeyDir = DefaultKeyDir
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultRateLimitWindow
	}
}

func (c *Config) validate() error {
	switch c.Integrity.Mode {
	case ModeMarkers, ModeSealed:
	default:
		return fmt.Errorf("integrity.mode must be %q or %q, got %q", ModeMarkers, ModeSealed, c.Integrity.Mode)
	}
	if c.MaxClockSkew < 0 {
		return fmt.Errorf("max_clock_skew must not be negative")
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("rate_limit.requests must not be negative")
	}
	if c.RateLimit.Window < 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	return nil
}
