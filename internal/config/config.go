// Package config loads the broker's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFile = "config.yaml"
	defaultListen     = ":8080"
	defaultDSN        = "data/broker.db"
)

// AppConfig carries process-level inputs such as the config file location.
type AppConfig struct {
	ConfigPath string
}

type Config struct {
	Listen    string          `yaml:"listen"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Provider  ProviderConfig  `yaml:"provider"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig enables the shared admission window and the telemetry mirror.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type ProviderConfig struct {
	// Kind is "http" for a real provider or "mock" for the in-memory one.
	Kind              string        `yaml:"kind"`
	BaseURL           string        `yaml:"base-url"`
	APIKey            string        `yaml:"api-key"`
	RequestTimeout    time.Duration `yaml:"request-timeout"`
	RequestsPerSecond float64       `yaml:"requests-per-second"`
	Burst             int           `yaml:"burst"`
	Endpoint          string        `yaml:"endpoint"`
	CompletionWindow  string        `yaml:"completion-window"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
	Compress   bool   `yaml:"compress"`
}

type TelemetryConfig struct {
	Disabled     bool          `yaml:"disabled"`
	WriteTimeout time.Duration `yaml:"write-timeout"`
}

type ReconcileConfig struct {
	Disabled bool `yaml:"disabled"`
}

// Default returns a configuration that runs locally against SQLite and the mock provider.
func Default() Config {
	return Config{
		Listen:   defaultListen,
		Database: DatabaseConfig{DSN: defaultDSN},
		Redis:    RedisConfig{Prefix: "broker"},
		Provider: ProviderConfig{
			Kind:              "mock",
			BaseURL:           "https://api.openai.com",
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			Endpoint:          "/v1/chat/completions",
			CompletionWindow:  "24h",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{WriteTimeout: 10 * time.Second},
	}
}

// ResolveConfigPath returns the explicit path, $BROKER_CONFIG, or config.yaml in the working directory.
func ResolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv("BROKER_CONFIG")); p != "" {
		return p
	}
	wd, err := os.Getwd()
	if err != nil {
		return defaultConfigFile
	}
	return filepath.Join(wd, defaultConfigFile)
}

// ConfigExists reports whether a config file is present at path.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	applyEnv(&cfg)
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

// LoadDatabaseDSN loads only the database DSN.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Database.DSN, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BROKER_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("BROKER_PROVIDER_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BROKER_REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("BROKER_LISTEN")); v != "" {
		cfg.Listen = v
	}
}

// Validate checks the fields the process cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required")
	}
	switch c.Provider.Kind {
	case "mock":
	case "http":
		if strings.TrimSpace(c.Provider.BaseURL) == "" {
			return errors.New("config: provider.base-url is required for the http provider")
		}
	default:
		return fmt.Errorf("config: unknown provider.kind %q", c.Provider.Kind)
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("config: redis.addr is required when redis is enabled")
	}
	return nil
}
