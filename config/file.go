// Package config handles tourd configuration and tour definitions from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sable-inc/sable-smart-links-sub000/tour"
)

// Config is the top-level tourd configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Page      PageConfig      `yaml:"page"`
	Listen    string          `yaml:"listen"`
	DB        string          `yaml:"db"`
	LogLevel  string          `yaml:"log_level"`
	Persist   PersistConfig   `yaml:"persist"`
	Timing    tour.Timing     `yaml:"timing"`
	Retention RetentionConfig `yaml:"retention"`
	// StrictStepIDs rejects tours whose steps carry no id.
	StrictStepIDs bool `yaml:"strict_step_ids"`
	// Include lists glob patterns of further tour files, relative to the
	// configuration file. Each holds a top-level "tours" list.
	Include []string     `yaml:"include"`
	Tours   []TourConfig `yaml:"tours"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote      string `yaml:"remote"`  // ws:// URL of an existing browser; empty launches one
	Bin         string `yaml:"bin"`     // Chrome binary for launching
	Stealth     string `yaml:"stealth"` // headless | headful
	UserDataDir string `yaml:"user_data_dir"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
}

// PageConfig is the page tours run on.
type PageConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"` // navigation bound
}

// PersistConfig tunes snapshots and URL activation.
type PersistConfig struct {
	// Store selects where snapshots and auto-start flags live: "sqlite" (the
	// daemon database) or "local_storage" (the page's origin).
	Store string        `yaml:"store"`
	Key   string        `yaml:"key"`
	Param string        `yaml:"param"`
	TTL   time.Duration `yaml:"ttl"`
}

// RetentionConfig bounds the observability tables, in days.
type RetentionConfig struct {
	EventsDays int `yaml:"events_days"`
	AuditDays  int `yaml:"audit_days"`
}

// TourConfig is one tour definition.
type TourConfig struct {
	ID     string      `yaml:"id"`
	Config tour.Config `yaml:",inline"`
	Steps  []tour.Step `yaml:"steps"`
}

// Registrar receives tour definitions.
type Registrar interface {
	Register(id string, steps []tour.Step, cfg tour.Config) error
}

// LoadFile reads a YAML configuration file and the tour files it includes.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.loadIncludes(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration and applies defaults. Unknown fields are
// rejected.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

type tourFile struct {
	Tours []TourConfig `yaml:"tours"`
}

func (c *Config) loadIncludes(dir string) error {
	var files []string
	for _, pattern := range c.Include {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(dir, pattern)
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("config: include %q: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("config: include: %w", err)
		}
		var tf tourFile
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&tf); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("config: %s: %w", f, err)
		}
		c.Tours = append(c.Tours, tf.Tours...)
	}
	return nil
}

// Validate checks what the engine cannot: tour ids are present and unique.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Tours))
	for i, t := range c.Tours {
		if t.ID == "" {
			return fmt.Errorf("tour %d has no id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tour %q defined twice", t.ID)
		}
		seen[t.ID] = true
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("browser.stealth: unknown mode %q", c.Browser.Stealth)
	}
	switch c.Persist.Store {
	case "sqlite", "local_storage":
	default:
		return fmt.Errorf("persist.store: unknown store %q", c.Persist.Store)
	}
	return nil
}

// Register hands every tour to r. Registration errors are collected; valid
// tours are registered regardless.
func (c *Config) Register(r Registrar) error {
	var errs []error
	for _, t := range c.Tours {
		if err := r.Register(t.ID, t.Steps, t.Config); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8421"
	}
	if c.DB == "" {
		c.DB = "tourd.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.Width <= 0 {
		c.Browser.Width = 1280
	}
	if c.Browser.Height <= 0 {
		c.Browser.Height = 800
	}
	if c.Page.Timeout <= 0 {
		c.Page.Timeout = 30 * time.Second
	}
	if c.Persist.Store == "" {
		c.Persist.Store = "sqlite"
	}
	if c.Persist.Key == "" {
		c.Persist.Key = "tourguide:snapshot"
	}
	if c.Persist.Param == "" {
		c.Persist.Param = "tour"
	}
	if c.Persist.TTL <= 0 {
		c.Persist.TTL = time.Hour
	}
	if c.Retention.EventsDays <= 0 {
		c.Retention.EventsDays = 90
	}
	if c.Retention.AuditDays <= 0 {
		c.Retention.AuditDays = 30
	}
}
