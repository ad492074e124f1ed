package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Session SessionConfig `yaml:"session"`
	Logging LogConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port       string `envconfig:"PORT" default:"3000" yaml:"port"`
	Host       string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	Production bool   `envconfig:"PRODUCTION" default:"false" yaml:"production"`
	StaticDir  string `envconfig:"STATIC_DIR" default:"web/static" yaml:"static_dir"`
}

// BrowserConfig holds browser capability configuration.
type BrowserConfig struct {
	Headless       bool          `envconfig:"BROWSER_HEADLESS" default:"true" yaml:"headless"`
	ViewportWidth  int           `envconfig:"VIEWPORT_WIDTH" default:"1280" yaml:"viewport_width"`
	ViewportHeight int           `envconfig:"VIEWPORT_HEIGHT" default:"720" yaml:"viewport_height"`
	NavTimeout     time.Duration `envconfig:"NAV_TIMEOUT" default:"30s" yaml:"nav_timeout"`
	DefaultURL     string        `envconfig:"DEFAULT_URL" default:"about:blank" yaml:"default_url"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	HealthInterval    time.Duration `envconfig:"HEALTH_INTERVAL" default:"10s" yaml:"health_interval"`
	PublishInterval   time.Duration `envconfig:"PUBLISH_INTERVAL" default:"1s" yaml:"publish_interval"`
	InitRetryBackoff  time.Duration `envconfig:"INIT_RETRY_BACKOFF" default:"5s" yaml:"init_retry_backoff"`
	DisconnectBackoff time.Duration `envconfig:"DISCONNECT_BACKOFF" default:"2s" yaml:"disconnect_backoff"`
	HealthBackoff     time.Duration `envconfig:"HEALTH_BACKOFF" default:"1s" yaml:"health_backoff"`
	ScreenshotPath    string        `envconfig:"SCREENSHOT_PATH" default:"web/static/screenshot.png" yaml:"screenshot_path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from a YAML file. File values override
// defaults; fields absent from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      "3000",
			Host:      "0.0.0.0",
			StaticDir: "web/static",
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 720,
			NavTimeout:     30 * time.Second,
			DefaultURL:     "about:blank",
		},
		Session: SessionConfig{
			HealthInterval:    10 * time.Second,
			PublishInterval:   time.Second,
			InitRetryBackoff:  5 * time.Second,
			DisconnectBackoff: 2 * time.Second,
			HealthBackoff:     time.Second,
			ScreenshotPath:    "web/static/screenshot.png",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
