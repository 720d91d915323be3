// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Token issuance
	TokenSecret string // Secret for the exam access-token codec

	// Security
	AdminSecret  string // Bootstrap secret for issuing the first examiner API key
	RateLimitRPS int

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (optional)

	// Ingestion limits
	MaxScreenshotBytes int64 // Max decoded screenshot payload size
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultRateLimit          = 120
	DefaultMaxScreenshotBytes = 4 << 20 // 4MB

	// devTokenSecret is only accepted outside production.
	devTokenSecret = "dev-secret-do-not-use"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		TokenSecret:        os.Getenv("TOKEN_SECRET"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MaxScreenshotBytes: getEnvInt64("MAX_SCREENSHOT_BYTES", DefaultMaxScreenshotBytes),
	}

	if cfg.TokenSecret == "" && !cfg.IsProduction() {
		cfg.TokenSecret = devTokenSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}
	if c.IsProduction() && c.TokenSecret == devTokenSecret {
		return fmt.Errorf("TOKEN_SECRET must be set explicitly in production")
	}
	if len(c.TokenSecret) < 16 {
		return fmt.Errorf("TOKEN_SECRET must be at least 16 characters")
	}
	if c.MaxScreenshotBytes <= 0 {
		return fmt.Errorf("MAX_SCREENSHOT_BYTES must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
