package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/scopeguard/pkg/audit"
	"github.com/platinummonkey/scopeguard/pkg/authz"
	"github.com/platinummonkey/scopeguard/pkg/config"
	"github.com/platinummonkey/scopeguard/pkg/httputil"
	"github.com/platinummonkey/scopeguard/pkg/middleware"
	"github.com/platinummonkey/scopeguard/pkg/observability"
	"github.com/platinummonkey/scopeguard/pkg/permcache"
	"github.com/platinummonkey/scopeguard/pkg/rbac"
	"github.com/platinummonkey/scopeguard/pkg/storage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("ScopeGuard exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	otelConfig := observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
		CacheBackend:   cfg.Cache.Backend,
		CacheTTL:       cfg.Cache.TTL,
	}
	if cfg.RateLimit.Enabled {
		otelConfig.RateLimitBackend = cfg.RateLimit.Backend
	}
	providers, err := observability.InitOTel(ctx, otelConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := storage.OpenPostgres(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	logger.Info("Connected to PostgreSQL")

	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" || (cfg.RateLimit.Enabled && cfg.RateLimit.Backend == "redis") {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			_ = db.Close()
			return err
		}
		logger.Info("Connected to Redis")
	}

	cacheConfig := permcache.Config{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries}
	var cache permcache.Cache
	if cfg.Cache.Backend == "redis" {
		cache = permcache.NewRedisCache(redisClient, cacheConfig)
	} else {
		cache = permcache.NewMemoryCache(cacheConfig)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}
	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		logger.WithError(err).Warn("OpenTelemetry instruments unavailable")
	}
	observability.StartDBStatsReporter(ctx, db, 0, metrics, otelMetrics, logger)

	auditLogger := audit.Logger(audit.NewStructuredLogger(logger))
	if dbAudit, err := audit.NewDBLogger(ctx, db); err != nil {
		logger.WithError(err).Warn("Database audit log unavailable, logging audit events only")
	} else {
		auditLogger = audit.NewMultiLogger(auditLogger, dbAudit)
	}

	rbacConfig := rbac.Config{
		CacheTTL: cfg.Cache.TTL,
		Seeder: rbac.SeederConfig{
			Concurrency: cfg.RBAC.SeedConcurrency,
			PageSize:    cfg.RBAC.SeedPageSize,
		},
		UserIDClaims: cfg.RBAC.UserIDClaims,
	}
	if otelMetrics != nil {
		rbacConfig.QueryRecorder = otelMetrics
	}
	manager := rbac.NewManager(db, cache, auditLogger, logger, metrics, rbacConfig)
	if err := manager.Initialize(ctx); err != nil {
		return err
	}

	if cfg.RBAC.SeedOnStartup {
		go func() {
			defer observability.RecoverPanic(logger, "startup template seeding")
			if _, err := manager.Seeder().Bootstrap(ctx); err != nil {
				logger.WithError(err).Error("Startup template seeding failed")
			}
		}()
	}

	authenticator, err := middleware.NewOIDCAuthenticatorFromIssuer(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID, cfg.Auth.Optional, logger)
	if err != nil {
		return err
	}

	decisions := authz.NewDecisionHandler(manager.Resolver(), cfg.RBAC.UserIDClaims, metrics)
	policies := authz.NewPolicyProvider(decisions, authz.StaticPolicies{
		"Authenticated": authz.Authenticated,
		"RBACAdmin":     authz.ClaimPolicy{Claim: cfg.Auth.AdminClaim, Values: cfg.Auth.AdminValues},
	})
	enforcer := authz.NewMiddleware(policies, logger, auditLogger)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(
		middleware.RequestID(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		authenticator.Handler,
	)
	if metrics != nil {
		api.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	if limiter := newLimiter(ctx, cfg, redisClient); limiter != nil {
		api.Use(middleware.RateLimit(limiter, cfg.RBAC.UserIDClaims, logger))
	}

	enforcer.RegisterCheckRoute(api)
	manager.RegisterRoutes(api, enforcer.Require("RBACAdmin"))

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "scopeguard"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var healthRedis redis.UniversalClient
	if redisClient != nil {
		healthRedis = redisClient
	}
	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, observability.NewHealthChecker(db, healthRedis, version))
	opsMux.Handle("/metrics", observability.MetricsHandler(registry))
	opsServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     opsMux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, opsServer)
	shutdown.RegisterShutdownFunc("background", func(context.Context) error {
		stop()
		return nil
	})
	shutdown.RegisterShutdownFunc("permission cache", func(context.Context) error {
		return cache.Close()
	})
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error {
		return auditLogger.Close()
	})
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return closeDatabase(db)
	})
	if redisClient != nil && cfg.Cache.Backend != "redis" {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveErr := make(chan error, 2)
	for _, server := range []*http.Server{apiServer, opsServer} {
		go func(s *http.Server) {
			logger.WithField("addr", s.Addr).Info("Listening")
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("server %s: %w", s.Addr, err)
			}
		}(server)
	}

	waitCtx, cancelWait := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancelWait()

	var runErr error
	select {
	case runErr = <-serveErr:
		logger.WithError(runErr).Error("Server failed")
	case <-waitCtx.Done():
	}

	if err := shutdown.Shutdown(); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// newLimiter returns the configured rate limiter, or nil when disabled
func newLimiter(ctx context.Context, cfg *config.Config, client *redis.Client) middleware.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	limitConfig := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		WindowDuration:    cfg.RateLimit.Window,
		BurstSize:         cfg.RateLimit.Burst,
	}
	if cfg.RateLimit.Backend == "redis" {
		return middleware.NewDistributedRateLimiter(client, limitConfig, "scopeguard")
	}
	limiter := middleware.NewRateLimiter(limitConfig)
	limiter.StartCleanup(ctx)
	return limiter
}

func closeDatabase(db *sql.DB) error {
	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
