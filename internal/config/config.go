// Package config loads runtime configuration from the environment, with a
// .env file applied first when present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"auction-house/utils"
)

// Config holds every runtime setting for the service.
type Config struct {
	Env          string        // "development" or "production"
	Port         string        // HTTP listen port
	DatabaseURL  string        // Postgres URL; empty selects the in-memory store
	ScanInterval time.Duration // expiry scanner tick interval
	ReminderLead time.Duration // how far before the deadline ending-soon fires
	Workers      int           // background job workers
}

// Load reads configuration from the environment. Missing values fall back
// to development defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		utils.Debug("no .env file found, using environment", nil)
	}

	return Config{
		Env:          getEnv("APP_ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		ScanInterval: getDuration("SCAN_INTERVAL", 5*time.Second),
		ReminderLead: getDuration("REMINDER_LEAD", 5*time.Minute),
		Workers:      getInt("JOB_WORKERS", 4),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		utils.Warn("invalid integer in environment, using default", map[string]any{"key": key, "value": v})
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		utils.Warn("invalid duration in environment, using default", map[string]any{"key": key, "value": v})
		return fallback
	}
	return d
}
