// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/subloop/subloop/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (optional; dedupe and rate limiting degrade without it)
	Redis RedisConfig

	// Billing configuration
	Billing BillingConfig

	// Auth configuration
	Auth AuthConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	PostgresURL  string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// BillingConfig holds payment provider and webhook configuration
type BillingConfig struct {
	StripeAPIKey     string
	WebhookSecret    string
	WebhookTolerance time.Duration

	// Base URL the browser returns to after checkout/portal flows
	AppBaseURL string

	// Cron expression for the periodic lapsed-subscription sweep
	ResyncSchedule string
	ResyncEnabled  bool

	// How long processed event IDs are remembered for dedupe
	DedupeTTL time.Duration
	// How long an in-flight claim on an event ID is held
	DedupeClaimTTL time.Duration
}

// AuthConfig holds session and OAuth configuration
type AuthConfig struct {
	SessionTTL time.Duration
	BcryptCost int

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Billing:       loadBillingConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SUBLOOP_HOST", "0.0.0.0"),
		Port:            getEnv("SUBLOOP_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SUBLOOP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SUBLOOP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SUBLOOP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SUBLOOP_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SUBLOOP_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL:  getEnv("SUBLOOP_POSTGRES_URL", ""),
		MaxOpenConns: getEnvInt("SUBLOOP_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("SUBLOOP_POSTGRES_IDLE_CONNS", 5),
		ConnLifetime: getEnvDuration("SUBLOOP_POSTGRES_CONN_LIFETIME", 5*time.Minute),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("SUBLOOP_REDIS_URL", ""),
		Password:   getEnv("SUBLOOP_REDIS_PASSWORD", ""),
		DB:         getEnvInt("SUBLOOP_REDIS_DB", 0),
		MaxRetries: getEnvInt("SUBLOOP_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("SUBLOOP_REDIS_POOL_SIZE", 10),
	}
}

// loadBillingConfig loads billing configuration from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		StripeAPIKey:     getEnv("SUBLOOP_STRIPE_API_KEY", ""),
		WebhookSecret:    getEnv("SUBLOOP_STRIPE_WEBHOOK_SECRET", ""),
		WebhookTolerance: getEnvDuration("SUBLOOP_WEBHOOK_TOLERANCE", 5*time.Minute),
		AppBaseURL:       getEnv("SUBLOOP_APP_BASE_URL", "http://localhost:8080"),
		ResyncSchedule:   getEnv("SUBLOOP_RESYNC_SCHEDULE", "0 */6 * * *"),
		ResyncEnabled:    getEnvBool("SUBLOOP_RESYNC_ENABLED", true),
		DedupeTTL:        getEnvDuration("SUBLOOP_DEDUPE_TTL", 24*time.Hour),
		DedupeClaimTTL:   getEnvDuration("SUBLOOP_DEDUPE_CLAIM_TTL", 5*time.Minute),
	}
}

// loadAuthConfig loads auth configuration from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SessionTTL:         getEnvDuration("SUBLOOP_SESSION_TTL", 7*24*time.Hour),
		BcryptCost:         getEnvInt("SUBLOOP_BCRYPT_COST", 10),
		GoogleClientID:     getEnv("SUBLOOP_GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("SUBLOOP_GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("SUBLOOP_GOOGLE_REDIRECT_URL", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("SUBLOOP_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SUBLOOP_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SUBLOOP_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SUBLOOP_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SUBLOOP_OTEL_SERVICE_NAME", "subloop"),
		OTelServiceVersion: getEnv("SUBLOOP_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SUBLOOP_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate database config
	if c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate billing config
	if c.Billing.StripeAPIKey == "" {
		return fmt.Errorf("Stripe API key is required")
	}
	if c.Billing.WebhookSecret == "" {
		return fmt.Errorf("Stripe webhook secret is required")
	}
	if c.Billing.WebhookTolerance <= 0 {
		return fmt.Errorf("webhook tolerance must be positive")
	}
	if c.Billing.AppBaseURL == "" {
		return fmt.Errorf("app base URL is required")
	}

	// Validate auth config
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31")
	}
	// Google OAuth is optional, but when one field is set all must be
	googleFields := []string{c.Auth.GoogleClientID, c.Auth.GoogleClientSecret, c.Auth.GoogleRedirectURL}
	anySet, allSet := false, true
	for _, f := range googleFields {
		if f != "" {
			anySet = true
		} else {
			allSet = false
		}
	}
	if anySet && !allSet {
		return fmt.Errorf("Google OAuth requires client ID, client secret, and redirect URL")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// GoogleEnabled reports whether Google OAuth sign-in is configured
func (c *Config) GoogleEnabled() bool {
	return c.Auth.GoogleClientID != "" && c.Auth.GoogleClientSecret != "" && c.Auth.GoogleRedirectURL != ""
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
