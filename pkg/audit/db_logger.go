package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(ctx context.Context, db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}

	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id BIGINT,
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		message TEXT,
		metadata JSONB,
		changes JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
	`

	_, err := l.db.ExecContext(ctx, query)
	return err
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON, changesJSON []byte
	var err error

	if len(event.Metadata) > 0 {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status, actor_id,
			resource_type, resource_id, request_id, method, path,
			message, metadata, changes
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12
		) RETURNING id
	`

	var actorID sql.NullInt64
	if event.ActorID != nil {
		actorID = sql.NullInt64{Int64: *event.ActorID, Valid: true}
	}

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status), actorID,
		string(event.ResourceType), event.ResourceID, event.RequestID, event.Method, event.Path,
		event.Message, metadataJSON, changesJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// LogAuthorization logs an authorization decision
func (l *DBLogger) LogAuthorization(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return l.Log(ctx, authorizationEvent(ctx, eventType, actorID, resourceType, resourceID, status, message))
}

// LogDataMutation logs a data mutation event
func (l *DBLogger) LogDataMutation(ctx context.Context, eventType EventType, actorID *int64, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	return l.Log(ctx, mutationEvent(ctx, eventType, actorID, resourceType, resourceID, changes, message))
}

// Close closes the logger
func (l *DBLogger) Close() error {
	// We don't close the database connection as it may be shared
	return nil
}
