// CLAUDE:SUMMARY Defines html2png config structs and parses YAML configuration files with defaults and validation.
// Package config handles html2png configuration from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Capture CaptureConfig `yaml:"capture"`
	Output  OutputConfig  `yaml:"output"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Sinks   []SinkConfig  `yaml:"sinks"`
}

// BrowserConfig controls Chrome lifecycle and page toggles.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"`
	Bin             string        `yaml:"bin"`
	NoSandbox       bool          `yaml:"no_sandbox"`
	MemoryLimit     int64         `yaml:"memory_limit"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
	Stealth         string        `yaml:"stealth"` // plain | headless | headful
	XvfbDisplay     string        `yaml:"xvfb_display"`
	UserAgent       string        `yaml:"user_agent"`

	// Initial outer viewport. Default: 1024x768.
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	DisableJS       bool `yaml:"disable_js"`
	DisablePlugins  bool `yaml:"disable_plugins"`
	DisableImages   bool `yaml:"disable_images"`
	DisableRedirect bool `yaml:"disable_redirect"`
	KillPopups      bool `yaml:"kill_popups"`
	Show            bool `yaml:"show"`
}

// CaptureConfig tunes capture sessions.
type CaptureConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	Settle       time.Duration `yaml:"settle"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ProbeMargin  int           `yaml:"probe_margin"`
	TileMargin   int           `yaml:"tile_margin"`
	PluginDelay  time.Duration `yaml:"plugin_delay"`
	Lenient      bool          `yaml:"lenient"`
	// MaxArea caps width*height of a capture rectangle. 0 = unlimited.
	MaxArea int `yaml:"max_area"`
}

// OutputConfig controls encoding and where batch artifacts go.
type OutputConfig struct {
	Dir          string `yaml:"dir"`
	Format       string `yaml:"format"`
	Quality      int    `yaml:"quality"`
	ScaledWidth  int    `yaml:"scaled_width"`
	ScaledHeight int    `yaml:"scaled_height"`
	ScaleMode    string `yaml:"scale_mode"` // none | inside | outside | stretch
}

// ServerConfig controls the HTTP front-end.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	AllowPrivate bool          `yaml:"allow_private"`
	MaxBody      int64         `yaml:"max_body"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StoreConfig locates the job database.
type StoreConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	// RetryBackoff delays a retried job, doubled per attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// SinkConfig defines an artifact destination.
type SinkConfig struct {
	Type    string        `yaml:"type"` // file | webhook
	URL     string        `yaml:"url"`  // for webhook
	Dir     string        `yaml:"dir"`  // for file
	Retries int           `yaml:"retries"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
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
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1024
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 768
	}
	if c.Capture.Timeout <= 0 {
		c.Capture.Timeout = 30 * time.Second
	}
	if c.Capture.Settle <= 0 {
		c.Capture.Settle = 50 * time.Millisecond
	}
	if c.Capture.PollInterval <= 0 {
		c.Capture.PollInterval = 25 * time.Millisecond
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "."
	}
	if c.Output.Quality <= 0 {
		c.Output.Quality = 90
	}
	if c.Output.ScaleMode == "" {
		c.Output.ScaleMode = "inside"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8420"
	}
	if c.Server.MaxBody <= 0 {
		c.Server.MaxBody = 4 << 20
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 2 * time.Minute
	}
	if c.Store.PollInterval <= 0 {
		c.Store.PollInterval = 2 * time.Second
	}
	if c.Store.RetryBackoff <= 0 {
		c.Store.RetryBackoff = 30 * time.Second
	}
	if c.Store.MaxAttempts <= 0 {
		c.Store.MaxAttempts = 3
	}
	for i := range c.Sinks {
		if c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
		if c.Sinks[i].Timeout <= 0 {
			c.Sinks[i].Timeout = 10 * time.Second
		}
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Browser.Stealth {
	case "plain", "headless", "stealth", "headful", "show":
	default:
		errs = append(errs, fmt.Errorf("browser.stealth: unknown level %q", c.Browser.Stealth))
	}
	if c.Output.Quality > 100 {
		errs = append(errs, fmt.Errorf("output.quality: %d is above 100", c.Output.Quality))
	}
	if c.Output.ScaledWidth < 0 || c.Output.ScaledHeight < 0 {
		errs = append(errs, errors.New("output: scaled size must not be negative"))
	}
	switch c.Output.ScaleMode {
	case "none", "inside", "outside", "stretch":
	default:
		errs = append(errs, fmt.Errorf("output.scale_mode: unknown mode %q", c.Output.ScaleMode))
	}
	if c.Capture.MaxArea < 0 {
		errs = append(errs, errors.New("capture.max_area must not be negative"))
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "file":
			if s.Dir == "" {
				errs = append(errs, fmt.Errorf("sinks[%d]: file sink needs dir", i))
			}
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("sinks[%d]: webhook sink needs url", i))
			}
		default:
			errs = append(errs, fmt.Errorf("sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
