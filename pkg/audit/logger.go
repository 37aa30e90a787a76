package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/scopeguard/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// LogAuthorization logs an authorization decision
	LogAuthorization(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) error

	// LogDataMutation logs a change to roles, assignments or teams
	LogDataMutation(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NewEvent builds an event stamped with the current time and request id
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
	}
}

func authorizationEvent(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) *AuditEvent {
	event := NewEvent(ctx, eventType, status)
	event.ActorID = actorID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return event
}

func mutationEvent(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) *AuditEvent {
	event := NewEvent(ctx, eventType, EventStatusSuccess)
	event.ActorID = actorID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Changes = changes
	event.Message = message
	return event
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

func (NoOpLogger) LogAuthorization(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return nil
}

func (NoOpLogger) LogDataMutation(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	return nil
}

func (NoOpLogger) Close() error { return nil }

// StructuredLogger writes audit events as structured log lines
type StructuredLogger struct {
	logger *observability.Logger
}

// NewStructuredLogger creates an audit logger on top of logger
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger.WithField("component", "audit")}
}

// Log writes the event
func (l *StructuredLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.ActorID != nil {
		fields["actor_id"] = *event.ActorID
	}
	if event.ResourceType != "" {
		fields["resource_type"] = string(event.ResourceType)
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Path != "" {
		fields["method"] = event.Method
		fields["path"] = event.Path
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}
	for k, v := range event.Metadata {
		fields["meta."+k] = v
	}

	l.logger.WithFields(fields).Info(event.Message)
	return nil
}

// LogAuthorization logs an authorization decision
func (l *StructuredLogger) LogAuthorization(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return l.Log(ctx, authorizationEvent(ctx, eventType, actorID, resourceType, resourceID, status, message))
}

// LogDataMutation logs a mutation
func (l *StructuredLogger) LogDataMutation(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	return l.Log(ctx, mutationEvent(ctx, eventType, actorID, resourceType, resourceID, changes, message))
}

// Close is a no-op
func (l *StructuredLogger) Close() error {
	return nil
}
