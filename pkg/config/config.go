package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	// Target is the device name selected without prompting.
	Target              string `yaml:"target" default:"MySensorForTests"`
	ReadCharacteristic  string `yaml:"read_characteristic" default:"00001143-0000-1000-8000-00805f9b34fb"`
	WriteCharacteristic string `yaml:"write_characteristic" default:"00001142-0000-1000-8000-00805f9b34fb"`
	BatchCapacity       int    `yaml:"batch_capacity" default:"256"`

	WarmUp         time.Duration `yaml:"warm_up" default:"2s"`
	Backoff        time.Duration `yaml:"backoff" default:"5s"`
	PollInterval   time.Duration `yaml:"poll_interval" default:"1s"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"5s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	// ScanAllowDuplicates reports every advertisement instead of the first per device.
	ScanAllowDuplicates bool `yaml:"scan_allow_duplicates"`
	// MaxAttempts caps consecutive failed cycles; 0 retries forever.
	MaxAttempts int `yaml:"max_attempts"`

	// StatusInterval is how often the session status is logged; 0 disables it.
	StatusInterval time.Duration `yaml:"status_interval" default:"30s"`
	Console        bool          `yaml:"console" default:"true"`
	LogLevel       string        `yaml:"log_level" default:"warn"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and characteristic UUIDs.
func (c *Config) Validate() error {
	var errs []error

	if c.BatchCapacity < 1 {
		errs = append(errs, fmt.Errorf("batch_capacity must be at least 1, got %d", c.BatchCapacity))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan_timeout must be positive, got %s", c.ScanTimeout))
	}
	for name, d := range map[string]time.Duration{
		"warm_up":         c.WarmUp,
		"backoff":         c.Backoff,
		"connect_timeout": c.ConnectTimeout,
		"status_interval": c.StatusInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("max_attempts must not be negative, got %d", c.MaxAttempts))
	}
	if _, err := device.ValidateUUID(c.ReadCharacteristic, c.WriteCharacteristic); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Level parses LogLevel. An empty level means info.
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log_level: %w", err)
	}
	return level, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, _ := c.Level()
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
