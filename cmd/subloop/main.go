package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/subloop/subloop/pkg/accounts"
	"github.com/subloop/subloop/pkg/api"
	"github.com/subloop/subloop/pkg/auth"
	"github.com/subloop/subloop/pkg/billing"
	"github.com/subloop/subloop/pkg/config"
	"github.com/subloop/subloop/pkg/middleware"
	"github.com/subloop/subloop/pkg/observability"
)

const version = "0.3.0"

const (
	accountCacheSize = 8192
	accountCacheTTL  = time.Minute

	dedupeMemoryEntries = 16384
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "subloop: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting subloop")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// PostgreSQL
	db, err := accounts.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := accounts.EnsureSchema(ctx, db); err != nil {
		return err
	}
	logger.Info("database schema ready")

	// Redis is optional: without it, dedupe and rate limiting fall back to
	// per-process behavior
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		if cfg.Redis.MaxRetries > 0 {
			opts.MaxRetries = cfg.Redis.MaxRetries
		}
		if cfg.Redis.PoolSize > 0 {
			opts.PoolSize = cfg.Redis.PoolSize
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable at startup, continuing degraded")
		} else {
			logger.Info("redis connected")
		}
		defer redisClient.Close()
	} else {
		logger.Warn("no redis configured, event dedupe is per-process")
	}

	// OpenTelemetry
	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: version,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to init opentelemetry: %w", err)
		}
	}

	metrics := observability.NewMetrics(nil)

	// Stores
	store := accounts.NewCachedStore(accounts.NewSQLStore(db), accountCacheSize, accountCacheTTL)

	// Billing pipeline
	provider := billing.NewStripeProvider(cfg.Billing.StripeAPIKey, metrics)
	verifier := billing.NewVerifier(cfg.Billing.WebhookSecret, cfg.Billing.WebhookTolerance, metrics)

	var deduper billing.Deduper
	if redisClient != nil {
		deduper = billing.NewRedisDeduper(redisClient, cfg.Billing.DedupeTTL, cfg.Billing.DedupeClaimTTL)
	} else {
		deduper = billing.NewMemoryDeduper(dedupeMemoryEntries, cfg.Billing.DedupeTTL)
	}

	retry := billing.NewRetryPolicy(billing.DefaultRetryConfig())
	reconciler := billing.NewReconciler(store, provider, deduper, retry, logger, metrics)

	// Periodic resync sweep
	var resync *billing.Resync
	if cfg.Billing.ResyncEnabled {
		resync = billing.NewResync(store, provider, retry, logger)
		if err := resync.Start(cfg.Billing.ResyncSchedule); err != nil {
			return err
		}
	}

	// Auth
	hasher := auth.NewHasher(cfg.Auth.BcryptCost)
	sessions := auth.NewSessionManager(db, store, cfg.Auth.SessionTTL)

	var google *auth.GoogleAuthenticator
	if cfg.GoogleEnabled() {
		google, err = auth.NewGoogleAuthenticator(ctx, store, auth.GoogleConfig{
			ClientID:     cfg.Auth.GoogleClientID,
			ClientSecret: cfg.Auth.GoogleClientSecret,
			RedirectURL:  cfg.Auth.GoogleRedirectURL,
		})
		if err != nil {
			return fmt.Errorf("failed to init google sign-in: %w", err)
		}
		logger.Info("google sign-in enabled")
	}

	var authLimiter *middleware.RateLimiter
	if redisClient != nil {
		authLimiter = middleware.NewRateLimiter(redisClient, middleware.AuthRateLimitConfig(), "ratelimit:auth", logger)
	}

	// HTTP servers
	server := api.NewServer(api.Options{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Store:       store,
		Sessions:    sessions,
		Hasher:      hasher,
		Google:      google,
		Verifier:    verifier,
		Reconciler:  reconciler,
		Provider:    provider,
		AuthLimiter: authLimiter,
	})

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, redisClient, version)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, appServer, healthServer)
	if resync != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			resync.Stop()
			return nil
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	errChan := make(chan error, 2)
	go func() {
		logger.WithField("addr", appServer.Addr).Info("api server listening")
		if err := appServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("health server: %w", err)
		}
	}()

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- shutdown.WaitForShutdown()
	}()

	select {
	case err := <-errChan:
		return err
	case err := <-shutdownDone:
		return err
	}
}
