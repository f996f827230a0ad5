// ABOUTME: Configuration loading and parsing for msgsync
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete msgsync configuration
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Sync    SyncConfig    `yaml:"sync"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServiceConfig holds message service connection settings
type ServiceConfig struct {
	BaseURL string `yaml:"base_url"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// SyncConfig holds polling and failure-handling settings
type SyncConfig struct {
	PollInterval     time.Duration `yaml:"-"`
	FailureThreshold int           `yaml:"failure_threshold"`
	PageLimit        int           `yaml:"page_limit"`

	// Raw string value for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with sensible defaults: 5s polling, a
// failure threshold of 3 firings, and a 15s request timeout.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Timeout: 15 * time.Second},
		Sync: SyncConfig{
			PollInterval:     5 * time.Second,
			FailureThreshold: 3,
			PageLimit:        20,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values; unset fields keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. If the environment variable is not set, it is
// replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure
// encountered.
func (c *Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url is required")
	}
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_interval must be positive")
	}
	if c.Sync.FailureThreshold <= 0 {
		return fmt.Errorf("sync.failure_threshold must be positive")
	}
	if c.Sync.PageLimit < 0 {
		return fmt.Errorf("sync.page_limit must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Sync.PollIntervalRaw != "" {
		cfg.Sync.PollInterval, err = time.ParseDuration(cfg.Sync.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Sync.PollIntervalRaw, err)
		}
	}

	if cfg.Service.TimeoutRaw != "" {
		cfg.Service.Timeout, err = time.ParseDuration(cfg.Service.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.Service.TimeoutRaw, err)
		}
	}

	return nil
}
