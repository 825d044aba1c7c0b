package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv overlays GRIDWATCH_* environment variables onto cfg.
// Unset or malformed values leave the existing setting in place.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("GRIDWATCH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if logLevel := os.Getenv("GRIDWATCH_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if backend := os.Getenv("GRIDWATCH_STORE_BACKEND"); backend != "" {
		cfg.Store.Backend = backend
	}
	if dsn := os.Getenv("GRIDWATCH_POSTGRES_DSN"); dsn != "" {
		cfg.Store.PostgresDSN = dsn
	}
	if url := os.Getenv("GRIDWATCH_REDIS_URL"); url != "" {
		cfg.Store.RedisURL = url
	}

	if interval := os.Getenv("GRIDWATCH_PREDICTION_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if weather := os.Getenv("GRIDWATCH_WEATHER_ENDPOINT"); weather != "" {
		cfg.Providers.WeatherEndpoint = weather
	}
	if outage := os.Getenv("GRIDWATCH_OUTAGE_ENDPOINT"); outage != "" {
		cfg.Providers.OutageEndpoint = outage
	}
}

// GetEnvOrDefault returns the environment variable or a default value.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
