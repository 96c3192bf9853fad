// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	SUBLOOP_HOST="0.0.0.0"
//	SUBLOOP_PORT="8080"
//	SUBLOOP_HEALTH_PORT="9090"
//	SUBLOOP_READ_TIMEOUT="15s"
//	SUBLOOP_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	SUBLOOP_POSTGRES_URL="postgres://localhost/subloop"
//	SUBLOOP_POSTGRES_MAX_CONNS="25"
//
// Redis settings (optional):
//
//	SUBLOOP_REDIS_URL="redis://localhost:6379"
//	SUBLOOP_REDIS_POOL_SIZE="10"
//
// Billing settings:
//
//	SUBLOOP_STRIPE_API_KEY="sk_live_..."
//	SUBLOOP_STRIPE_WEBHOOK_SECRET="whsec_..."
//	SUBLOOP_WEBHOOK_TOLERANCE="5m"
//	SUBLOOP_APP_BASE_URL="https://app.example.com"
//	SUBLOOP_RESYNC_SCHEDULE="0 */6 * * *"
//
// Auth settings:
//
//	SUBLOOP_SESSION_TTL="168h"
//	SUBLOOP_GOOGLE_CLIENT_ID="..."
//	SUBLOOP_GOOGLE_CLIENT_SECRET="..."
//	SUBLOOP_GOOGLE_REDIRECT_URL="https://app.example.com/api/auth/google/callback"
//
// Observability settings:
//
//	SUBLOOP_LOG_LEVEL="info"  # debug, info, warn, error
//	SUBLOOP_METRICS_ENABLED="true"
//	SUBLOOP_OTEL_ENABLED="true"
//	SUBLOOP_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %v\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/accounts: Uses database configuration
//   - pkg/billing: Uses billing configuration
//   - pkg/observability: Uses observability configuration
package config
