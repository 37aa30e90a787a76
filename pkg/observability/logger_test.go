package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")

		entry := decodeEntry(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn and error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}

		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Error("Error message should be logged at Info level")
		}
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("tenant_id", 7).
		WithFields(map[string]interface{}{"role": "Admin"}).
		WithError(errors.New("boom")).
		Infof("seeded %d roles", 4)

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "seeded 4 roles" {
		t.Errorf("Expected formatted message, got %v", entry["msg"])
	}
	if entry["tenant_id"] != float64(7) {
		t.Errorf("Expected tenant_id 7, got %v", entry["tenant_id"])
	}
	if entry["role"] != "Admin" {
		t.Errorf("Expected role Admin, got %v", entry["role"])
	}
	if entry["error"] != "boom" {
		t.Errorf("Expected error boom, got %v", entry["error"])
	}
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, nil)
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestContextHelpers(t *testing.T) {
	t.Run("RequestID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		if got := GetRequestID(ctx); got != "req-123" {
			t.Errorf("Expected request ID 'req-123', got %s", got)
		}
	})

	t.Run("missing logger falls back to default", func(t *testing.T) {
		if GetLogger(context.Background()) == nil {
			t.Error("Expected a default logger")
		}
	})

	t.Run("LoggerFrom prefers the request logger", func(t *testing.T) {
		var buf bytes.Buffer
		requestLogger := NewLogger(InfoLevel, &buf).WithField("request_id", "req-123")
		ctx := WithRequestID(context.Background(), "req-123")
		ctx = WithLogger(ctx, requestLogger)

		if got := LoggerFrom(ctx, NewLogger(InfoLevel, nil)); got != requestLogger {
			t.Error("Expected the request-scoped logger")
		}
	})

	t.Run("LoggerFrom tags the fallback", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := WithRequestID(context.Background(), "req-456")

		LoggerFrom(ctx, NewLogger(InfoLevel, &buf)).Info("test message")

		entry := decodeEntry(t, &buf)
		if entry["request_id"] != "req-456" {
			t.Errorf("Expected request_id 'req-456', got %v", entry["request_id"])
		}
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLogLevel(tt.in); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
