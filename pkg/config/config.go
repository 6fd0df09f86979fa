package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/1F47E/geo-region-index/pkg/region"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config structure for YAML configuration
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Region struct {
		CoverageRadius float64 `yaml:"coverage_radius"`
		MailboxSize    int     `yaml:"mailbox_size"`
		OverFetch      int     `yaml:"over_fetch"`
		MinChildren    int     `yaml:"min_children"`
		MaxChildren    int     `yaml:"max_children"`
	} `yaml:"region"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	rc := region.DefaultConfig()

	var cfg Config
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Region.CoverageRadius = rc.CoverageRadius
	cfg.Region.MailboxSize = rc.MailboxSize
	cfg.Region.OverFetch = rc.OverFetch
	cfg.Region.MinChildren = rc.MinChildren
	cfg.Region.MaxChildren = rc.MaxChildren
	return cfg
}

// Load builds the configuration from defaults, then the YAML file at path,
// then GEOREGION_* environment variables. envFile, when set, is loaded into
// the environment first; a missing env file is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GEOREGION_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GEOREGION_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("GEOREGION_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("GEOREGION_COVERAGE_RADIUS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid GEOREGION_COVERAGE_RADIUS: %w", err)
		}
		c.Region.CoverageRadius = f
	}

	ints := map[string]*int{
		"GEOREGION_MAILBOX_SIZE": &c.Region.MailboxSize,
		"GEOREGION_OVER_FETCH":   &c.Region.OverFetch,
		"GEOREGION_MIN_CHILDREN": &c.Region.MinChildren,
		"GEOREGION_MAX_CHILDREN": &c.Region.MaxChildren,
	}
	for name, dst := range ints {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = n
	}
	return nil
}

// Validate checks the settings that would otherwise fail deep inside a region.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if !(c.Region.CoverageRadius > 0) {
		return fmt.Errorf("coverage radius must be positive, got %v", c.Region.CoverageRadius)
	}
	if c.Region.MailboxSize < 0 {
		return fmt.Errorf("mailbox size must not be negative, got %d", c.Region.MailboxSize)
	}
	if c.Region.OverFetch < 1 {
		return fmt.Errorf("over-fetch factor must be at least 1, got %d", c.Region.OverFetch)
	}
	if c.Region.MinChildren < 1 || c.Region.MaxChildren < 2*c.Region.MinChildren-1 {
		return fmt.Errorf("invalid index branching: min %d, max %d", c.Region.MinChildren, c.Region.MaxChildren)
	}
	return nil
}

// RegionConfig converts the file settings into a region configuration.
func (c Config) RegionConfig() region.Config {
	rc := region.DefaultConfig()
	rc.CoverageRadius = c.Region.CoverageRadius
	rc.MailboxSize = c.Region.MailboxSize
	rc.OverFetch = c.Region.OverFetch
	rc.MinChildren = c.Region.MinChildren
	rc.MaxChildren = c.Region.MaxChildren
	return rc
}
