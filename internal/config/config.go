// Package config loads detectmap settings from defaults, an optional YAML
// file and the environment, in that order of precedence (lowest first).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/detectmap/pkg/client"
	"github.com/Sternrassler/detectmap/pkg/compose"
	"github.com/Sternrassler/detectmap/pkg/detectmap"
	"github.com/Sternrassler/detectmap/pkg/links"
	"github.com/Sternrassler/detectmap/pkg/logging"
	"github.com/Sternrassler/detectmap/pkg/pagination"
	"gopkg.in/yaml.v3"
)

// DefaultUserAgent identifies detectmap to the upstream API.
const DefaultUserAgent = "detectmap/0.1.0"

// Environment variables read by Load.
const (
	EnvBaseURL        = "DETECTMAP_BASE_URL"
	EnvStartPath      = "DETECTMAP_START_PATH"
	EnvUserAgent      = "DETECTMAP_USER_AGENT"
	EnvTimeout        = "DETECTMAP_TIMEOUT"
	EnvMaxConcurrency = "DETECTMAP_MAX_CONCURRENCY"
	EnvMaxPages       = "DETECTMAP_MAX_PAGES"
	EnvPort           = "PORT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogPretty      = "LOG_PRETTY"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds every detectmap setting.
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	StartPath      string        `yaml:"start_path"`
	UserAgent      string        `yaml:"user_agent"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxPages       int           `yaml:"max_pages"`
	ListenAddr     string        `yaml:"listen_addr"`
	LogLevel       string        `yaml:"log_level"`
	LogPretty      bool          `yaml:"log_pretty"`
}

// Default returns the configuration for the public hardware API.
func Default() Config {
	clientCfg := client.DefaultConfig(DefaultUserAgent)
	return Config{
		BaseURL:        clientCfg.BaseURL,
		StartPath:      pagination.DefaultStartPath,
		UserAgent:      DefaultUserAgent,
		Timeout:        clientCfg.Timeout,
		MaxConcurrency: compose.DefaultConfig().MaxConcurrency,
		MaxPages:       pagination.DefaultConfig().MaxPages,
		ListenAddr:     ":8080",
		LogLevel:       string(logging.LevelInfo),
	}
}

// Load builds the configuration. path may be empty to skip the YAML file;
// getenv is usually os.Getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos do not pass silently.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := getenv(EnvStartPath); v != "" {
		c.StartPath = v
	}
	if v := getenv(EnvUserAgent); v != "" {
		c.UserAgent = v
	}
	if v := getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvTimeout, err)
		}
		c.Timeout = d
	}
	if v := getenv(EnvMaxConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvMaxConcurrency, err)
		}
		c.MaxConcurrency = n
	}
	if v := getenv(EnvMaxPages); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvMaxPages, err)
		}
		c.MaxPages = n
	}
	if v := getenv(EnvPort); v != "" {
		c.ListenAddr = ":" + v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvLogPretty); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvLogPretty, err)
		}
		c.LogPretty = b
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := links.New(c.BaseURL); err != nil {
		return fmt.Errorf("%w: base_url: %v", ErrInvalidConfig, err)
	}
	if !strings.HasPrefix(c.StartPath, "/") {
		return fmt.Errorf("%w: start_path must begin with / (got %q)", ErrInvalidConfig, c.StartPath)
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		return fmt.Errorf("%w: user_agent is required", ErrInvalidConfig)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be >= 0 (got %s)", ErrInvalidConfig, c.Timeout)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max_concurrency must be >= 1 (got %d)", ErrInvalidConfig, c.MaxConcurrency)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("%w: max_pages must be >= 0 (got %d)", ErrInvalidConfig, c.MaxPages)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Client returns the API client configuration.
func (c Config) Client() client.Config {
	cfg := client.DefaultConfig(c.UserAgent)
	cfg.BaseURL = c.BaseURL
	cfg.Timeout = c.Timeout
	return cfg
}

// Pagination returns the fetcher configuration.
func (c Config) Pagination() pagination.Config {
	return pagination.Config{MaxPages: c.MaxPages}
}

// Compose returns the composer configuration.
func (c Config) Compose() compose.Config {
	cfg := compose.DefaultConfig()
	cfg.MaxConcurrency = c.MaxConcurrency
	return cfg
}

// Service returns the detect map service configuration.
func (c Config) Service() detectmap.Config {
	return detectmap.Config{StartPath: c.StartPath}
}

// Logging returns the logger configuration writing to out.
func (c Config) Logging(out io.Writer) logging.Config {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{
		Level:  level,
		Pretty: c.LogPretty,
		Output: out,
	}
}
