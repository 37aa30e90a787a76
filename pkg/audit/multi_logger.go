package audit

import (
	"context"
	"errors"
)

// MultiLogger logs to multiple audit loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log logs an audit event to all configured loggers. A failing logger does
// not stop delivery to the others.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogAuthorization logs an authorization decision to all loggers
func (m *MultiLogger) LogAuthorization(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return m.Log(ctx, authorizationEvent(ctx, eventType, actorID, resourceType, resourceID, status, message))
}

// LogDataMutation logs a mutation to all loggers
func (m *MultiLogger) LogDataMutation(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	return m.Log(ctx, mutationEvent(ctx, eventType, actorID, resourceType, resourceID, changes, message))
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
