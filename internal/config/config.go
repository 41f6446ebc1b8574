package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all navvoice configuration.
type Config struct {
	Voice    VoiceConfig    `yaml:"voice"`
	Settings SettingsConfig `yaml:"settings"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// VoiceConfig configures pack discovery and the rule base.
type VoiceConfig struct {
	Root              string `yaml:"root"`
	Pack              string `yaml:"pack"`
	SupportedVersions []int  `yaml:"supported_versions"`
	QueryTimeout      string `yaml:"query_timeout"`
	FactLimit         int    `yaml:"fact_limit"`
	Watch             bool   `yaml:"watch"`
	WatchDebounce     string `yaml:"watch_debounce"`
}

// SettingsConfig seeds the in-process settings store.
type SettingsConfig struct {
	Mode         string         `yaml:"mode"`
	MetricSystem string         `yaml:"metric_system"`
	AudioStreams map[string]int `yaml:"audio_streams"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Voice: VoiceConfig{
			Root:              "voice",
			SupportedVersions: []int{101, 102, 103},
			QueryTimeout:      "2s",
			FactLimit:         100000,
			Watch:             true,
			WatchDebounce:     "500ms",
		},
		Settings: SettingsConfig{
			Mode:         "car",
			MetricSystem: "km-m",
			AudioStreams: map[string]int{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("NAVVOICE_ROOT"); root != "" {
		c.Voice.Root = root
	}
	if pack := os.Getenv("NAVVOICE_PACK"); pack != "" {
		c.Voice.Pack = pack
	}
	if mode := os.Getenv("NAVVOICE_MODE"); mode != "" {
		c.Settings.Mode = mode
	}
	if level := os.Getenv("NAVVOICE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetQueryTimeout returns the rule base query timeout as a duration.
func (c *Config) GetQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Voice.QueryTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// GetWatchDebounce returns how long pack file events settle before a reload.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Voice.WatchDebounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Voice.Root == "" {
		return fmt.Errorf("voice root directory not configured")
	}
	if len(c.Voice.SupportedVersions) == 0 {
		return fmt.Errorf("no supported rule base versions configured")
	}
	// An abandoned query keeps evaluating until the fact limit stops it.
	if c.Voice.FactLimit <= 0 {
		return fmt.Errorf("invalid fact limit: %d (must be positive)", c.Voice.FactLimit)
	}
	if c.Voice.QueryTimeout != "" {
		if _, err := time.ParseDuration(c.Voice.QueryTimeout); err != nil {
			return fmt.Errorf("invalid query timeout %q: %w", c.Voice.QueryTimeout, err)
		}
	}
	for mode, stream := range c.Settings.AudioStreams {
		if stream < 0 {
			return fmt.Errorf("invalid audio stream %d for mode %s", stream, mode)
		}
	}
	return nil
}
