package snapshot

import (
	"github.com/hazyhaar/html2png/snapshot/internal/config"
)

// Config is the top-level html2png configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle and page toggles.
type BrowserConfig = config.BrowserConfig

// CaptureConfig tunes capture sessions.
type CaptureConfig = config.CaptureConfig

// OutputConfig controls encoding defaults.
type OutputConfig = config.OutputConfig

// ServerConfig controls the HTTP front-end.
type ServerConfig = config.ServerConfig

// StoreConfig locates the job database.
type StoreConfig = config.StoreConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes a YAML document.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
