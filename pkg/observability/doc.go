// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health checks and graceful shutdown.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", 7).Info("Seeded tenant")
//
// Request-scoped loggers travel in the context and pick up the active trace:
//
//	logger := observability.FromContext(ctx)
//
// # Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.PermissionChecksTotal.WithLabelValues("single", "allowed").Inc()
//
// OTelMetrics mirrors store query timing and connection pool statistics onto
// the global OpenTelemetry meter; StartDBStatsReporter feeds both.
//
// # Health
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// The database is required. A failing Redis reports "degraded" since permission
// lookups fall through to the store.
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second, apiServer, healthServer)
//	sm.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
//	err := sm.WaitForShutdown(ctx)
package observability
