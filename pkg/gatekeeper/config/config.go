package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Owner    OwnerConfig    `yaml:"owner"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the sqlite database location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig holds prometheus settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// OwnerConfig describes the root owner account created on first start
type OwnerConfig struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{Path: "gatekeeper.db"},
		Log:      LogConfig{Level: "info"},
		Metrics:  MetricsConfig{Enabled: true},
		Owner: OwnerConfig{
			Email:    "owner@gatekeeper.local",
			Name:     "Owner",
			Password: "changeme",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// GATEKEEPER_CONFIG (if set), and environment overrides, in that order
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("GATEKEEPER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.ShutdownTimeout = getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Database.Path = getEnv("GATEKEEPER_DB_PATH", c.Database.Path)
	c.Log.Level = getEnv("GATEKEEPER_LOG_LEVEL", c.Log.Level)
	c.Log.Development = getEnvBool("GATEKEEPER_LOG_DEV", c.Log.Development)
	c.Metrics.Enabled = getEnvBool("GATEKEEPER_METRICS_ENABLED", c.Metrics.Enabled)
	c.Owner.Email = getEnv("GATEKEEPER_OWNER_EMAIL", c.Owner.Email)
	c.Owner.Name = getEnv("GATEKEEPER_OWNER_NAME", c.Owner.Name)
	c.Owner.Password = getEnv("GATEKEEPER_OWNER_PASSWORD", c.Owner.Password)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port %q is not a number", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Owner.Email == "" || !strings.Contains(c.Owner.Email, "@") {
		return fmt.Errorf("invalid owner email %q", c.Owner.Email)
	}
	if c.Owner.Password == "" {
		return errors.New("owner password is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
