// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

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

	// Security
	AdminSecret  string // authorizes emergency reset and rule administration
	RateLimitRPS int

	// Engine tuning
	WorkspaceRoot     string        // path boundary for the safety gate (empty disables)
	RetentionDays     int           // audit log retention window
	SweepInterval     time.Duration // retention sweep cadence
	EmergencyWindow   time.Duration // trailing window for emergency trip conditions
	EmergencyFailures int           // absolute failure count that trips the stop
	EmergencyRatio    float64       // failure/decision ratio that trips the stop
	RuleCacheTTL      time.Duration // policy rule cache lifetime
	SeedDefaultRules  bool          // install the default SOP rule set on empty stores
	OTLPEndpoint      string        // OpenTelemetry collector endpoint (empty disables tracing)
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultRateLimit         = 100
	DefaultRetentionDays     = 30
	DefaultSweepInterval     = 5 * time.Minute
	DefaultEmergencyWindow   = time.Hour
	DefaultEmergencyFailures = 5
	DefaultEmergencyRatio    = 0.3
	DefaultRuleCacheTTL      = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		WorkspaceRoot:     os.Getenv("WORKSPACE_ROOT"),
		RetentionDays:     int(getEnvInt64("RETENTION_DAYS", DefaultRetentionDays)),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		EmergencyWindow:   getEnvDuration("EMERGENCY_WINDOW", DefaultEmergencyWindow),
		EmergencyFailures: int(getEnvInt64("EMERGENCY_MAX_FAILURES", DefaultEmergencyFailures)),
		EmergencyRatio:    getEnvFloat("EMERGENCY_MAX_RATIO", DefaultEmergencyRatio),
		RuleCacheTTL:      getEnvDuration("RULE_CACHE_TTL", DefaultRuleCacheTTL),
		SeedDefaultRules:  getEnvBool("SEED_DEFAULT_RULES", true),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.EmergencyFailures <= 0 {
		return fmt.Errorf("EMERGENCY_MAX_FAILURES must be positive")
	}
	if c.EmergencyRatio <= 0 || c.EmergencyRatio >= 1 {
		return fmt.Errorf("EMERGENCY_MAX_RATIO must be in (0, 1)")
	}
	return nil
}

// Retention returns the audit retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
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
