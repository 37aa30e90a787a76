package rbac

import (
	"fmt"
	"strings"
	"time"
)

// EntityType is a kind of CRM record that permissions are granted on
type EntityType string

const (
	EntityContact  EntityType = "Contact"
	EntityCompany  EntityType = "Company"
	EntityDeal     EntityType = "Deal"
	EntityActivity EntityType = "Activity"
	EntityQuote    EntityType = "Quote"
	EntityRequest  EntityType = "Request"
	EntityProduct  EntityType = "Product"
)

// AllEntityTypes returns every entity type known to the system.
// Template seeding and backfill iterate this list, so appending a new
// entity type here is all that is needed for older tenants to get coverage.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityContact,
		EntityCompany,
		EntityDeal,
		EntityActivity,
		EntityQuote,
		EntityRequest,
		EntityProduct,
	}
}

// ParseEntityType parses an entity type name, ignoring case
func ParseEntityType(s string) (EntityType, error) {
	for _, e := range AllEntityTypes() {
		if strings.EqualFold(string(e), strings.TrimSpace(s)) {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown entity type: %q", s)
}

// Operation is an action performed on an entity
type Operation string

const (
	OperationView   Operation = "View"
	OperationCreate Operation = "Create"
	OperationEdit   Operation = "Edit"
	OperationDelete Operation = "Delete"
)

// AllOperations returns every operation in matrix order
func AllOperations() []Operation {
	return []Operation{OperationView, OperationCreate, OperationEdit, OperationDelete}
}

// ParseOperation parses an operation name, ignoring case
func ParseOperation(s string) (Operation, error) {
	for _, op := range AllOperations() {
		if strings.EqualFold(string(op), strings.TrimSpace(s)) {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation: %q", s)
}

// Role is a named set of entity and field permissions owned by a tenant
type Role struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	IsTemplate  bool      `json:"is_template"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RolePermission grants a scope for one entity/operation pair
type RolePermission struct {
	RoleID     int64      `json:"role_id"`
	EntityType EntityType `json:"entity_type"`
	Operation  Operation  `json:"operation"`
	Scope      Scope      `json:"scope"`
}

// RoleFieldPermission overrides access to a single field of an entity
type RoleFieldPermission struct {
	RoleID      int64       `json:"role_id"`
	EntityType  EntityType  `json:"entity_type"`
	FieldName   string      `json:"field_name"`
	AccessLevel AccessLevel `json:"access_level"`
}

// Team groups users; members inherit DefaultRoleID when it is set
type Team struct {
	ID            int64     `json:"id"`
	TenantID      int64     `json:"tenant_id"`
	Name          string    `json:"name"`
	DefaultRoleID *int64    `json:"default_role_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EffectivePermission is the resolved scope a user holds for one
// entity/operation pair after combining all of their roles.
// It is computed, never stored.
type EffectivePermission struct {
	EntityType EntityType `json:"entity_type"`
	Operation  Operation  `json:"operation"`
	Scope      Scope      `json:"scope"`
}

// Allowed reports whether the scope grants any access at all
func (p EffectivePermission) Allowed() bool {
	return p.Scope != ScopeNone
}
