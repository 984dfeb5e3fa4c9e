// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Processors
	ProcessorsFile    string // YAML catalog; built-in demo catalog when empty
	ExecutionTimeout  time.Duration
	DegradedThreshold float64
	HealthInterval    time.Duration
	StripeAPIKey      string

	// Routing
	MaxRoutingAttempts int
	LargeThreshold     decimal.Decimal
	ModerateThreshold  decimal.Decimal

	// Oracle
	OracleProvider     string // "heuristic" or "openai"
	OracleOutputFormat string // "text" or "json"
	OracleTimeout      time.Duration
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string

	// Audit
	RedisURL     string // optional; audit events are published when set
	AuditChannel string
	AuditBacklog int64

	// Security
	AdminJWTSecret string
	RateLimitRPM   int

	// Observability
	OTelEndpoint string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultMaxAttempts       = 3
	DefaultOracleProvider    = "heuristic"
	DefaultOutputFormat      = "text"
	DefaultOracleTimeout     = 8 * time.Second
	DefaultExecutionTimeout  = 10 * time.Second
	DefaultHealthInterval    = 30 * time.Second
	DefaultDegradedThreshold = 0.95
	DefaultLargeThreshold    = "5000"
	DefaultModerateThreshold = "1000"
	DefaultOpenAIModel       = "gpt-5"
	DefaultAuditChannel      = "payroute:audit"
	DefaultAuditBacklog      = 10000
	DefaultRateLimit         = 600
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
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		ProcessorsFile:     os.Getenv("PROCESSORS_FILE"),
		ExecutionTimeout:   getEnvDuration("EXECUTION_TIMEOUT", DefaultExecutionTimeout),
		DegradedThreshold:  getEnvFloat("DEGRADED_THRESHOLD", DefaultDegradedThreshold),
		HealthInterval:     getEnvDuration("HEALTH_CHECK_INTERVAL", DefaultHealthInterval),
		StripeAPIKey:       os.Getenv("STRIPE_API_KEY"),
		MaxRoutingAttempts: int(getEnvInt64("MAX_ROUTING_ATTEMPTS", DefaultMaxAttempts)),
		LargeThreshold:     getEnvDecimal("LARGE_TRANSACTION_THRESHOLD", DefaultLargeThreshold),
		ModerateThreshold:  getEnvDecimal("MODERATE_TRANSACTION_THRESHOLD", DefaultModerateThreshold),
		OracleProvider:     strings.ToLower(getEnv("ORACLE_PROVIDER", DefaultOracleProvider)),
		OracleOutputFormat: strings.ToLower(getEnv("ORACLE_OUTPUT_FORMAT", DefaultOutputFormat)),
		OracleTimeout:      getEnvDuration("ORACLE_TIMEOUT", DefaultOracleTimeout),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:        getEnv("OPENAI_MODEL", DefaultOpenAIModel),
		RedisURL:           os.Getenv("REDIS_URL"),
		AuditChannel:       getEnv("AUDIT_CHANNEL", DefaultAuditChannel),
		AuditBacklog:       getEnvInt64("AUDIT_BACKLOG", DefaultAuditBacklog),
		AdminJWTSecret:     os.Getenv("ADMIN_JWT_SECRET"),
		RateLimitRPM:       int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTelEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.MaxRoutingAttempts < 1 || c.MaxRoutingAttempts > 10 {
		return fmt.Errorf("MAX_ROUTING_ATTEMPTS must be between 1 and 10")
	}

	switch c.OracleProvider {
	case "heuristic":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when ORACLE_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("ORACLE_PROVIDER must be heuristic or openai, got %q", c.OracleProvider)
	}
	if c.OracleOutputFormat != "text" && c.OracleOutputFormat != "json" {
		return fmt.Errorf("ORACLE_OUTPUT_FORMAT must be text or json, got %q", c.OracleOutputFormat)
	}

	if !c.ModerateThreshold.IsPositive() || !c.LargeThreshold.IsPositive() {
		return fmt.Errorf("transaction thresholds must be positive")
	}
	if c.ModerateThreshold.GreaterThan(c.LargeThreshold) {
		return fmt.Errorf("MODERATE_TRANSACTION_THRESHOLD must not exceed LARGE_TRANSACTION_THRESHOLD")
	}
	if c.DegradedThreshold <= 0 || c.DegradedThreshold > 1 {
		return fmt.Errorf("DEGRADED_THRESHOLD must be within (0, 1]")
	}
	if c.OracleTimeout <= 0 || c.ExecutionTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT and EXECUTION_TIMEOUT must be positive")
	}

	if c.IsProduction() && len(c.AdminJWTSecret) < 32 {
		return fmt.Errorf("ADMIN_JWT_SECRET of at least 32 bytes is required in production")
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(defaultValue)
}
