package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Training  TrainingConfig  `yaml:"training"`
	Providers ProvidersConfig `yaml:"providers"`
	Notify    NotifyConfig    `yaml:"notify"`
}

type ServerConfig struct {
	Port     int    `yaml:"port" default:"8080"`
	LogLevel string `yaml:"log_level" default:"info"`
}

type StoreConfig struct {
	// Backend is one of memory, postgres, redis.
	Backend     string `yaml:"backend" default:"memory"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisURL    string `yaml:"redis_url"`
}

type SchedulerConfig struct {
	Interval     time.Duration `yaml:"interval" default:"15m"`
	HistoryLimit int           `yaml:"history_limit" default:"1000"`
}

type TrainingConfig struct {
	IntervalHours          int     `yaml:"interval_hours" default:"24"`
	MinDataPoints          int     `yaml:"min_data_points" default:"50"`
	MinAccuracyImprovement float64 `yaml:"min_accuracy_improvement" default:"0.01"`
}

type ProvidersConfig struct {
	WeatherEndpoint string  `yaml:"weather_endpoint"`
	OutageEndpoint  string  `yaml:"outage_endpoint"`
	Latitude        float64 `yaml:"latitude"`
	Longitude       float64 `yaml:"longitude"`
	LocationName    string  `yaml:"location_name"`
}

type NotifyConfig struct {
	Enabled   bool `yaml:"enabled" default:"true"`
	PerMinute int  `yaml:"per_minute" default:"5"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Scheduler: SchedulerConfig{
			Interval:     15 * time.Minute,
			HistoryLimit: 1000,
		},
		Training: TrainingConfig{
			IntervalHours:          24,
			MinDataPoints:          50,
			MinAccuracyImprovement: 0.01,
		},
		Notify: NotifyConfig{
			Enabled:   true,
			PerMinute: 5,
		},
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("config: postgres backend requires postgres_dsn")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("config: redis backend requires redis_url")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.Scheduler.Interval <= 0 {
		return errors.New("config: scheduler interval must be positive")
	}
	if c.Training.MinDataPoints < 1 {
		return errors.New("config: min_data_points must be at least 1")
	}
	return nil
}

// LoadFile reads a yaml config file over the defaults. A missing file
// returns the defaults unchanged so the service can run with no config
// on disk.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
