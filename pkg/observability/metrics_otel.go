package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry instruments exported over OTLP alongside
// the Prometheus registry
type OTelMetrics struct {
	// Store metrics
	storeQueriesTotal  metric.Int64Counter
	storeQueryDuration metric.Float64Histogram

	// Database pool metrics
	dbConnectionsInUse metric.Int64Gauge
	dbConnectionsIdle  metric.Int64Gauge
	dbConnectionsMax   metric.Int64Gauge
	dbWaitDuration     metric.Float64Gauge
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/scopeguard")

	m := &OTelMetrics{}
	var err error

	m.storeQueriesTotal, err = meter.Int64Counter(
		"rbac.store.queries",
		metric.WithDescription("Total number of role store round trips made while resolving permissions"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store queries counter: %w", err)
	}

	m.storeQueryDuration, err = meter.Float64Histogram(
		"rbac.store.query.duration",
		metric.WithDescription("Role store round trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store query duration histogram: %w", err)
	}

	m.dbConnectionsInUse, err = meter.Int64Gauge(
		"db.client.connections.in_use",
		metric.WithDescription("Number of database connections in use"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-use connections gauge: %w", err)
	}

	m.dbConnectionsIdle, err = meter.Int64Gauge(
		"db.client.connections.idle",
		metric.WithDescription("Number of idle database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create idle connections gauge: %w", err)
	}

	m.dbConnectionsMax, err = meter.Int64Gauge(
		"db.client.connections.max",
		metric.WithDescription("Maximum number of open database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create max connections gauge: %w", err)
	}

	m.dbWaitDuration, err = meter.Float64Gauge(
		"db.client.connections.wait_time",
		metric.WithDescription("Cumulative time spent waiting for a database connection"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create wait time gauge: %w", err)
	}

	return m, nil
}

// RecordStoreQuery records one store round trip
func (m *OTelMetrics) RecordStoreQuery(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	m.storeQueriesTotal.Add(ctx, 1, attrs)
	m.storeQueryDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDBStats records a connection pool snapshot
func (m *OTelMetrics) RecordDBStats(ctx context.Context, stats sql.DBStats) {
	if m == nil {
		return
	}

	m.dbConnectionsInUse.Record(ctx, int64(stats.InUse))
	m.dbConnectionsIdle.Record(ctx, int64(stats.Idle))
	m.dbConnectionsMax.Record(ctx, int64(stats.MaxOpenConnections))
	m.dbWaitDuration.Record(ctx, stats.WaitDuration.Seconds())
}

// StartDBStatsReporter samples db every interval into both metric sinks
// until ctx is done. Either sink may be nil.
func StartDBStatsReporter(ctx context.Context, db *sql.DB, interval time.Duration, prom *Metrics, otelMetrics *OTelMetrics, logger *Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer RecoverPanic(logger, "db stats reporter")

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				if prom != nil {
					prom.UpdateDBStats(stats)
				}
				otelMetrics.RecordDBStats(ctx, stats)
			case <-ctx.Done():
				return
			}
		}
	}()
}
