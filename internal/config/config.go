// Package config loads the gateway configuration from YAML with .env
// pickup and environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Intel     IntelConfig     `yaml:"intel"`
	Blacklist BlacklistConfig `yaml:"blacklist"`
	Logging   LoggingConfig   `yaml:"logging"`
	Rewrite   RewriteConfig   `yaml:"rewrite"`
	Logger    LogWriterConfig `yaml:"log_writer"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	FallbackURL  string   `yaml:"fallback_url"`
	AdminOrigins []string `yaml:"admin_origins"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

// RedisConfig holds the optional shared-cache settings.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// IntelConfig holds ip2location.io settings.
type IntelConfig struct {
	APIKey         string `yaml:"api_key"`
	Region         string `yaml:"region"` // "" or "eu"
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the stage-2 lookup deadline.
func (c IntelConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BlacklistConfig holds the CIDR table settings.
type BlacklistConfig struct {
	DataDir string `yaml:"data_dir"`
}

// File returns the snapshot path.
func (c BlacklistConfig) File() string {
	return c.DataDir + "/blacklist.json"
}

// LoggingConfig holds structured-logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// RewriteConfig holds the URL rewriter knobs.
type RewriteConfig struct {
	DecodeBase64 bool `yaml:"decode_base64"`
}

// LogWriterConfig holds the write-behind logger settings.
type LogWriterConfig struct {
	BatchIntervalSeconds int `yaml:"batch_interval_seconds"`
	RetentionDays        int `yaml:"retention_days"`
}

// BatchInterval returns the flush cadence.
func (c LogWriterConfig) BatchInterval() time.Duration {
	if c.BatchIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.BatchIntervalSeconds) * time.Second
}

// Retention returns the visitor-log retention window.
func (c LogWriterConfig) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Load reads the YAML file at path. A missing file is not an error; env
// vars can carry the whole configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// LoadFromEnv loads the YAML file, picks up a .env file if present, and
// applies environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	// Best effort; production deployments set real env vars.
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FALLBACK_URL"); v != "" {
		cfg.Server.FallbackURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DB_POOL_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Database.PoolSize = size
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("IP2LOCATION_API_KEY"); v != "" {
		cfg.Intel.APIKey = v
	}
	if v := os.Getenv("IP2LOCATION_REGION"); v != "" {
		cfg.Intel.Region = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Blacklist.DataDir = v
	}
	if v := os.Getenv("LOG_BATCH_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Logger.BatchIntervalSeconds = secs
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.FallbackURL == "" {
		c.Server.FallbackURL = "https://www.google.com"
	}
	if len(c.Server.AdminOrigins) == 0 {
		c.Server.AdminOrigins = []string{"http://localhost:5173"}
	}
	if c.Database.PoolSize == 0 {
		c.Database.PoolSize = 10
	}
	if c.Blacklist.DataDir == "" {
		c.Blacklist.DataDir = "./data"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the settings required to boot.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database url is required (DATABASE_URL)")
	}
	if c.Intel.APIKey == "" {
		return fmt.Errorf("config: ip2location api key is required (IP2LOCATION_API_KEY)")
	}
	return nil
}
