// Package config loads engine configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"protosignal/internal/cache"
)

// Config holds the engine's runtime configuration
type Config struct {
	DatabaseURL string
	HTTPAddr    string

	CacheTTL       time.Duration
	ComputeTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Load reads configuration from the environment. A .env file is honored
// when present but never required.
func Load() (*Config, error) {
	// A missing .env file is the normal case in production
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		CacheTTL:       getDuration("ANALYSIS_CACHE_TTL", 5*time.Minute),
		ComputeTimeout: getDuration("ANALYSIS_COMPUTE_TIMEOUT", 3*time.Second),
		RetryAttempts:  getInt("STORE_RETRY_ATTEMPTS", 3),
		RetryBaseDelay: getDuration("STORE_RETRY_BASE_DELAY", 100*time.Millisecond),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RetryAttempts < 1 {
		return nil, fmt.Errorf("STORE_RETRY_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

// CachePolicy builds the cache policy from the configured tunables
func (c *Config) CachePolicy() cache.Policy {
	p := cache.DefaultPolicy()
	p.TTL = c.CacheTTL
	p.ComputeTimeout = c.ComputeTimeout
	p.Retry.MaxAttempts = c.RetryAttempts
	p.Retry.BaseDelay = c.RetryBaseDelay
	return p
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
