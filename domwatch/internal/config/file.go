// Package config loads domwatch configuration: a YAML file for the browser,
// pages, sinks and API, and an optional SQLite table of extra rules.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/vitrine/domwatch/internal/pagewatch"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the top-level domwatch configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Debounce DebounceConfig `yaml:"debounce"`
	Pages    []PageConfig   `yaml:"pages"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	HTTP     HTTPConfig     `yaml:"http"`
	// DB is the path of the SQLite rule store. Empty disables it.
	DB         string `yaml:"db"`
	SnippetLen int    `yaml:"snippet_len"`
}

// BrowserConfig controls the Chrome process.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	Headless         *bool         `yaml:"headless"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// IsHeadless defaults to true when unset.
func (b BrowserConfig) IsHeadless() bool { return b.Headless == nil || *b.Headless }

// PageConfig is one page to watch.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
	// Mode is "static" (HTTP only), "browser", or "auto" which falls back to
	// the browser when the static body looks like a script shell.
	Mode          string           `yaml:"mode"`
	Rules         []pagewatch.Rule `yaml:"rules"`
	FetchInterval time.Duration    `yaml:"fetch_interval"`
}

type DebounceConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// SinkConfig selects an output: stdout, webhook or sqlite.
type SinkConfig struct {
	Type    string `yaml:"type"`
	URL     string `yaml:"url"`
	Path    string `yaml:"path"`
	Retries int    `yaml:"retries"`
}

type HTTPConfig struct {
	// Listen enables the control API when set, e.g. "127.0.0.1:8470".
	Listen  string `yaml:"listen"`
	MaxBody int64  `yaml:"max_body"`
	// RateLimit caps rule writes per client IP per minute. Default 60.
	RateLimit int `yaml:"rate_limit"`
}

// LoadFile reads, defaults and validates a YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = 250 * time.Millisecond
	}
	if c.Debounce.MaxBuffer <= 0 {
		c.Debounce.MaxBuffer = 1000
	}
	if c.HTTP.MaxBody <= 0 {
		c.HTTP.MaxBody = 64 << 10
	}
	if c.HTTP.RateLimit <= 0 {
		c.HTTP.RateLimit = 60
	}
	if c.SnippetLen <= 0 {
		c.SnippetLen = pagewatch.DefaultSnippetLen
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range c.Pages {
		p := &c.Pages[i]
		if p.Mode == "" {
			p.Mode = "auto"
		}
		if p.FetchInterval <= 0 {
			p.FetchInterval = 15 * time.Minute
		}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, p := range c.Pages {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("%w: pages[%d]: missing id", ErrInvalid, i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("%w: pages[%d]: duplicate id %q", ErrInvalid, i, p.ID))
		}
		seen[p.ID] = true
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("%w: page %q: missing url", ErrInvalid, p.ID))
		}
		switch p.Mode {
		case "static", "browser", "auto":
		default:
			errs = append(errs, fmt.Errorf("%w: page %q: unknown mode %q", ErrInvalid, p.ID, p.Mode))
		}
		names := make(map[string]bool)
		for _, r := range p.Rules {
			if err := r.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%w: page %q: %w", ErrInvalid, p.ID, err))
			}
			if names[r.Name] {
				errs = append(errs, fmt.Errorf("%w: page %q: duplicate rule %q", ErrInvalid, p.ID, r.Name))
			}
			names[r.Name] = true
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("%w: sinks[%d]: webhook needs url", ErrInvalid, i))
			}
		case "sqlite":
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("%w: sinks[%d]: sqlite needs path", ErrInvalid, i))
			}
		default:
			errs = append(errs, fmt.Errorf("%w: sinks[%d]: unknown type %q", ErrInvalid, i, s.Type))
		}
	}
	return errors.Join(errs...)
}

// Page returns the page with id.
func (c *Config) Page(id string) (*PageConfig, bool) {
	for i := range c.Pages {
		if c.Pages[i].ID == id {
			return &c.Pages[i], true
		}
	}
	return nil, false
}
