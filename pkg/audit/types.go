package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"

	// Role events
	EventTypeRoleCreate            EventType = "rbac.role_create"
	EventTypeRoleDelete            EventType = "rbac.role_delete"
	EventTypeRolePermissionChange  EventType = "rbac.role_permission_change"
	EventTypeFieldPermissionChange EventType = "rbac.field_permission_change"
	EventTypeRoleAssign            EventType = "rbac.role_assign"
	EventTypeRoleRevoke            EventType = "rbac.role_revoke"

	// Team events
	EventTypeTeamCreate            EventType = "rbac.team_create"
	EventTypeTeamDefaultRoleChange EventType = "rbac.team_default_role_change"
	EventTypeTeamMemberAdd         EventType = "rbac.team_member_add"
	EventTypeTeamMemberRemove      EventType = "rbac.team_member_remove"

	// Maintenance events
	EventTypeCacheInvalidate EventType = "rbac.cache_invalidate"
	EventTypeTemplateSeed    EventType = "rbac.template_seed"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeTeam       ResourceType = "team"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeTenant     ResourceType = "tenant"
	ResourceTypePermission ResourceType = "permission"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// ActorID is the user performing the action, when known
	ActorID *int64 `json:"actor_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
