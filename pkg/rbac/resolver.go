package rbac

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var resolverTracer = otel.Tracer("scopeguard/rbac/resolver")

// PermissionStore is the read side of the store used for resolution
type PermissionStore interface {
	GetRoleIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	GetRolePermissions(ctx context.Context, roleIDs []int64, entityType EntityType, operation Operation) ([]RolePermission, error)
	GetMaxScopes(ctx context.Context, roleIDs []int64) ([]EffectivePermission, error)
	GetRoleFieldPermissions(ctx context.Context, roleIDs []int64, entityType EntityType, fieldName string) ([]RoleFieldPermission, error)
}

// PermissionResolver computes a user's effective permissions
type PermissionResolver interface {
	GetEffectivePermission(ctx context.Context, userID int64, entityType EntityType, operation Operation) (EffectivePermission, error)
	GetAllPermissions(ctx context.Context, userID int64) ([]EffectivePermission, error)
	GetFieldAccessLevel(ctx context.Context, userID int64, entityType EntityType, fieldName string) (AccessLevel, error)
}

// QueryRecorder observes the store round trips made during resolution.
// observability.OTelMetrics satisfies it.
type QueryRecorder interface {
	RecordStoreQuery(ctx context.Context, operation string, duration time.Duration, err error)
}

// Resolver resolves permissions directly from the store on every call.
// Each query costs two round trips: the role-id union and the permission lookup.
type Resolver struct {
	store    PermissionStore
	recorder QueryRecorder
}

// NewResolver creates a resolver backed by store
func NewResolver(store PermissionStore) *Resolver {
	return &Resolver{store: store}
}

// WithRecorder attaches a recorder timing each store query
func (r *Resolver) WithRecorder(recorder QueryRecorder) *Resolver {
	r.recorder = recorder
	return r
}

func (r *Resolver) observe(ctx context.Context, operation string, start time.Time, err error) {
	if r.recorder != nil {
		r.recorder.RecordStoreQuery(ctx, operation, time.Since(start), err)
	}
}

func (r *Resolver) roleIDs(ctx context.Context, userID int64) ([]int64, error) {
	start := time.Now()
	ids, err := r.store.GetRoleIDsForUser(ctx, userID)
	r.observe(ctx, "get_role_ids", start, err)
	return ids, err
}

// GetEffectivePermission returns the most permissive scope any of the user's
// roles grants for the entity/operation pair. No roles or no matching rows
// resolve to ScopeNone.
func (r *Resolver) GetEffectivePermission(ctx context.Context, userID int64, entityType EntityType, operation Operation) (EffectivePermission, error) {
	ctx, span := resolverTracer.Start(ctx, "GetEffectivePermission",
		trace.WithAttributes(
			attribute.Int64("user_id", userID),
			attribute.String("entity_type", string(entityType)),
			attribute.String("operation", string(operation)),
		),
	)
	defer span.End()

	perm := EffectivePermission{EntityType: entityType, Operation: operation, Scope: ScopeNone}

	roleIDs, err := r.roleIDs(ctx, userID)
	if err != nil {
		recordSpanError(span, err, "failed to get role ids")
		return perm, fmt.Errorf("failed to resolve permission: %w", err)
	}
	if len(roleIDs) == 0 {
		return perm, nil
	}

	start := time.Now()
	rows, err := r.store.GetRolePermissions(ctx, roleIDs, entityType, operation)
	r.observe(ctx, "get_role_permissions", start, err)
	if err != nil {
		recordSpanError(span, err, "failed to get role permissions")
		return perm, fmt.Errorf("failed to resolve permission: %w", err)
	}

	for _, row := range rows {
		perm.Scope = MaxScope(perm.Scope, row.Scope)
	}

	span.SetAttributes(attribute.String("scope", perm.Scope.String()))
	return perm, nil
}

// GetAllPermissions returns the max scope for every entity/operation pair the
// user's roles mention. Pairs with no rows are omitted and mean ScopeNone.
func (r *Resolver) GetAllPermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	ctx, span := resolverTracer.Start(ctx, "GetAllPermissions",
		trace.WithAttributes(attribute.Int64("user_id", userID)),
	)
	defer span.End()

	roleIDs, err := r.roleIDs(ctx, userID)
	if err != nil {
		recordSpanError(span, err, "failed to get role ids")
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	if len(roleIDs) == 0 {
		return []EffectivePermission{}, nil
	}

	start := time.Now()
	perms, err := r.store.GetMaxScopes(ctx, roleIDs)
	r.observe(ctx, "get_max_scopes", start, err)
	if err != nil {
		recordSpanError(span, err, "failed to get max scopes")
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	if perms == nil {
		perms = []EffectivePermission{}
	}

	span.SetAttributes(attribute.Int("permission_count", len(perms)))
	return perms, nil
}

// GetFieldAccessLevel returns the most permissive access level any of the
// user's roles grants on the field. Without overrides the field is editable,
// even for users holding no roles.
func (r *Resolver) GetFieldAccessLevel(ctx context.Context, userID int64, entityType EntityType, fieldName string) (AccessLevel, error) {
	ctx, span := resolverTracer.Start(ctx, "GetFieldAccessLevel",
		trace.WithAttributes(
			attribute.Int64("user_id", userID),
			attribute.String("entity_type", string(entityType)),
			attribute.String("field_name", fieldName),
		),
	)
	defer span.End()

	roleIDs, err := r.roleIDs(ctx, userID)
	if err != nil {
		recordSpanError(span, err, "failed to get role ids")
		return DefaultAccessLevel, fmt.Errorf("failed to resolve field access: %w", err)
	}
	if len(roleIDs) == 0 {
		return DefaultAccessLevel, nil
	}

	start := time.Now()
	rows, err := r.store.GetRoleFieldPermissions(ctx, roleIDs, entityType, fieldName)
	r.observe(ctx, "get_field_permissions", start, err)
	if err != nil {
		recordSpanError(span, err, "failed to get field permissions")
		return DefaultAccessLevel, fmt.Errorf("failed to resolve field access: %w", err)
	}
	if len(rows) == 0 {
		return DefaultAccessLevel, nil
	}

	levels := make([]AccessLevel, len(rows))
	for i, row := range rows {
		levels[i] = row.AccessLevel
	}
	return MaxAccessLevel(levels...), nil
}

func recordSpanError(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
