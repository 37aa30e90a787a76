package observability

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeterProvider creates a test meter provider with a manual reader
func setupTestMeterProvider(t *testing.T) *metric.ManualReader {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(previous)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down provider: %v", err)
		}
	})
	return reader
}

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewOTelMetrics(t *testing.T) {
	setupTestMeterProvider(t)

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v, want nil", err)
	}
	if m.storeQueriesTotal == nil || m.storeQueryDuration == nil {
		t.Error("store instruments are nil")
	}
	if m.dbConnectionsInUse == nil || m.dbConnectionsIdle == nil || m.dbConnectionsMax == nil || m.dbWaitDuration == nil {
		t.Error("pool instruments are nil")
	}
}

func TestOTelMetrics_RecordStoreQuery(t *testing.T) {
	reader := setupTestMeterProvider(t)
	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}

	ctx := context.Background()
	m.RecordStoreQuery(ctx, "role_ids", 5*time.Millisecond, nil)
	m.RecordStoreQuery(ctx, "role_ids", 7*time.Millisecond, nil)
	m.RecordStoreQuery(ctx, "max_scopes", 9*time.Millisecond, errors.New("connection reset"))

	metrics := collect(t, reader)

	counter, ok := metrics["rbac.store.queries"]
	if !ok {
		t.Fatal("store queries counter not recorded")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", counter.Data)
	}

	counts := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		op, _ := dp.Attributes.Value(attribute.Key("operation"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[op.AsString()+"/"+status.AsString()] = dp.Value
	}
	if counts["role_ids/success"] != 2 {
		t.Errorf("role_ids/success = %d, want 2", counts["role_ids/success"])
	}
	if counts["max_scopes/error"] != 1 {
		t.Errorf("max_scopes/error = %d, want 1", counts["max_scopes/error"])
	}

	if _, ok := metrics["rbac.store.query.duration"]; !ok {
		t.Error("store query duration not recorded")
	}
}

func TestOTelMetrics_RecordDBStats(t *testing.T) {
	reader := setupTestMeterProvider(t)
	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}

	m.RecordDBStats(context.Background(), sql.DBStats{InUse: 4, Idle: 1, MaxOpenConnections: 20})

	metrics := collect(t, reader)
	gauge, ok := metrics["db.client.connections.in_use"].Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 4 {
		t.Errorf("in_use gauge = %+v", metrics["db.client.connections.in_use"].Data)
	}
	gauge, ok = metrics["db.client.connections.max"].Data.(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 20 {
		t.Errorf("max gauge = %+v", metrics["db.client.connections.max"].Data)
	}
}

func TestOTelMetrics_NilIsNoOp(t *testing.T) {
	var m *OTelMetrics
	m.RecordStoreQuery(context.Background(), "role_ids", time.Millisecond, nil)
	m.RecordDBStats(context.Background(), sql.DBStats{})
}

func TestStartDBStatsReporter(t *testing.T) {
	reader := setupTestMeterProvider(t)
	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics() error = %v", err)
	}

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartDBStatsReporter(ctx, db, 10*time.Millisecond, nil, m, NewLogger(ErrorLevel, io.Discard))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := collect(t, reader)["db.client.connections.max"]; ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("reporter never recorded pool stats")
}
