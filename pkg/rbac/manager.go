package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/scopeguard/pkg/audit"
	"github.com/platinummonkey/scopeguard/pkg/auth"
	"github.com/platinummonkey/scopeguard/pkg/observability"
	"github.com/platinummonkey/scopeguard/pkg/permcache"
)

// ErrInvalidationFailed is returned when a mutation was committed but the
// affected users' cached permissions could not all be dropped. Stale
// entries still expire after the cache TTL.
var ErrInvalidationFailed = errors.New("rbac: permission cache invalidation failed")

// Config holds RBAC configuration
type Config struct {
	// CacheTTL is how long resolved permissions are cached
	CacheTTL time.Duration

	// Seeder controls the cross-tenant bootstrap pass
	Seeder SeederConfig

	// UserIDClaims are the principal claims holding the numeric user id
	UserIDClaims []string

	// QueryRecorder, when set, times the store queries made on cache misses
	QueryRecorder QueryRecorder
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:     DefaultCacheTTL,
		Seeder:       DefaultSeederConfig(),
		UserIDClaims: auth.DefaultUserIDClaims,
	}
}

// Manager wires the store, resolvers, seeder and handlers together and
// performs every mutation that changes a user's effective permissions.
// Each mutation invalidates the cached permissions of the users it affects
// after the write commits.
type Manager struct {
	db          *sql.DB
	store       *Store
	resolver    *CachedResolver
	seeder      *Seeder
	handlers    *Handlers
	auditLogger audit.Logger
	logger      *observability.Logger
	config      Config
}

// NewManager creates a new RBAC manager. auditLogger and metrics may be nil.
func NewManager(db *sql.DB, cache permcache.Cache, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics, config Config) *Manager {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	if len(config.UserIDClaims) == 0 {
		config.UserIDClaims = auth.DefaultUserIDClaims
	}

	store := NewStore(db)
	direct := NewResolver(store)
	if config.QueryRecorder != nil {
		direct.WithRecorder(config.QueryRecorder)
	}
	m := &Manager{
		db:          db,
		store:       store,
		resolver:    NewCachedResolver(direct, cache, logger, metrics),
		seeder:      NewSeeder(store, config.Seeder, logger, metrics),
		auditLogger: auditLogger,
		logger:      logger,
		config:      config,
	}
	m.handlers = NewHandlers(m, logger)
	return m
}

// Initialize applies pending schema migrations
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.db, m.logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RegisterRoutes registers RBAC routes with a router. admin guards every
// mutation route.
func (m *Manager) RegisterRoutes(router *mux.Router, admin mux.MiddlewareFunc) {
	m.handlers.RegisterRoutes(router, admin)
}

// Store returns the RBAC store
func (m *Manager) Store() *Store {
	return m.store
}

// Resolver returns the cached permission resolver used for authorization
func (m *Manager) Resolver() *CachedResolver {
	return m.resolver
}

// Seeder returns the template seeder
func (m *Manager) Seeder() *Seeder {
	return m.seeder
}

// InvalidateUserPermissions drops every cached resolution for the user
func (m *Manager) InvalidateUserPermissions(ctx context.Context, userID int64) error {
	if err := m.resolver.InvalidateUserPermissions(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidationFailed, err)
	}
	m.recordMutation(ctx, audit.EventTypeCacheInvalidate, audit.ResourceTypeUser, userID, nil, "permission cache invalidated")
	return nil
}

// CreateRole creates a custom role with an optional initial permission
// matrix. New roles have no holders, so nothing is invalidated.
func (m *Manager) CreateRole(ctx context.Context, tenantID int64, name, description string, perms []RolePermission) (*Role, error) {
	role := &Role{TenantID: tenantID, Name: name, Description: description}

	err := m.store.InTx(ctx, func(tx *Store) error {
		if err := tx.CreateRole(ctx, role); err != nil {
			return err
		}
		for _, perm := range perms {
			perm.RoleID = role.ID
			if err := tx.UpsertRolePermission(ctx, perm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.recordMutation(ctx, audit.EventTypeRoleCreate, audit.ResourceTypeRole, role.ID, &audit.ChangeDetails{
		After: map[string]interface{}{"name": name, "tenant_id": tenantID, "permissions": len(perms)},
	}, "role created")
	return role, nil
}

// DeleteRole deletes a tenant's custom role
func (m *Manager) DeleteRole(ctx context.Context, tenantID, roleID int64) error {
	role, err := m.tenantRole(ctx, tenantID, roleID)
	if err != nil {
		return err
	}

	// Holders are collected before the rows disappear
	affected, err := m.store.GetUserIDsForRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}

	m.recordMutation(ctx, audit.EventTypeRoleDelete, audit.ResourceTypeRole, roleID, &audit.ChangeDetails{
		Before: map[string]interface{}{"name": role.Name},
	}, "role deleted")
	return m.invalidateUsers(ctx, affected)
}

// SetRolePermissions upserts entity/operation scopes on a role and
// invalidates every user holding it
func (m *Manager) SetRolePermissions(ctx context.Context, tenantID, roleID int64, perms []RolePermission) error {
	if _, err := m.tenantRole(ctx, tenantID, roleID); err != nil {
		return err
	}

	changes := make(map[string]interface{}, len(perms))
	err := m.store.InTx(ctx, func(tx *Store) error {
		for _, perm := range perms {
			perm.RoleID = roleID
			if err := tx.UpsertRolePermission(ctx, perm); err != nil {
				return err
			}
			changes[string(perm.EntityType)+":"+string(perm.Operation)] = perm.Scope.String()
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.recordMutation(ctx, audit.EventTypeRolePermissionChange, audit.ResourceTypeRole, roleID, &audit.ChangeDetails{After: changes}, "role permissions updated")
	return m.invalidateRoleHolders(ctx, roleID)
}

// SetRoleFieldPermissions upserts field access overrides on a role and
// invalidates every user holding it
func (m *Manager) SetRoleFieldPermissions(ctx context.Context, tenantID, roleID int64, perms []RoleFieldPermission) error {
	if _, err := m.tenantRole(ctx, tenantID, roleID); err != nil {
		return err
	}

	changes := make(map[string]interface{}, len(perms))
	err := m.store.InTx(ctx, func(tx *Store) error {
		for _, perm := range perms {
			perm.RoleID = roleID
			if err := tx.UpsertRoleFieldPermission(ctx, perm); err != nil {
				return err
			}
			changes[string(perm.EntityType)+"."+perm.FieldName] = perm.AccessLevel.String()
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.recordMutation(ctx, audit.EventTypeFieldPermissionChange, audit.ResourceTypeRole, roleID, &audit.ChangeDetails{After: changes}, "field permissions updated")
	return m.invalidateRoleHolders(ctx, roleID)
}

// AssignRole grants a role directly to a user of the same tenant
func (m *Manager) AssignRole(ctx context.Context, tenantID, userID, roleID int64) error {
	if err := m.tenantUser(ctx, tenantID, userID); err != nil {
		return err
	}
	if _, err := m.tenantRole(ctx, tenantID, roleID); err != nil {
		return err
	}
	if err := m.store.AssignRoleToUser(ctx, userID, roleID); err != nil {
		return err
	}

	m.recordMutation(ctx, audit.EventTypeRoleAssign, audit.ResourceTypeUser, userID, &audit.ChangeDetails{
		After: map[string]interface{}{"role_id": roleID},
	}, "role assigned")
	return m.invalidateUsers(ctx, []int64{userID})
}

// RevokeRole removes a direct role grant
func (m *Manager) RevokeRole(ctx context.Context, tenantID, userID, roleID int64) error {
	if err := m.tenantUser(ctx, tenantID, userID); err != nil {
		return err
	}
	if err := m.store.RevokeRoleFromUser(ctx, userID, roleID); err != nil {
		return err
	}

	m.recordMutation(ctx, audit.EventTypeRoleRevoke, audit.ResourceTypeUser, userID, &audit.ChangeDetails{
		Before: map[string]interface{}{"role_id": roleID},
	}, "role revoked")
	return m.invalidateUsers(ctx, []int64{userID})
}

// CreateTeam creates a team, optionally with a default role for its members
func (m *Manager) CreateTeam(ctx context.Context, tenantID int64, name string, defaultRoleID *int64) (*Team, error) {
	if defaultRoleID != nil {
		if _, err := m.tenantRole(ctx, tenantID, *defaultRoleID); err != nil {
			return nil, err
		}
	}

	team := &Team{TenantID: tenantID, Name: name, DefaultRoleID: defaultRoleID}
	if err := m.store.CreateTeam(ctx, team); err != nil {
		return nil, err
	}

	m.recordMutation(ctx, audit.EventTypeTeamCreate, audit.ResourceTypeTeam, team.ID, &audit.ChangeDetails{
		After: map[string]interface{}{"name": name, "default_role_id": defaultRoleID},
	}, "team created")
	return team, nil
}

// SetTeamDefaultRole sets or clears the role inherited by a team's members
// and invalidates every member
func (m *Manager) SetTeamDefaultRole(ctx context.Context, tenantID, teamID int64, roleID *int64) error {
	team, err := m.tenantTeam(ctx, tenantID, teamID)
	if err != nil {
		return err
	}
	if roleID != nil {
		if _, err := m.tenantRole(ctx, tenantID, *roleID); err != nil {
			return err
		}
	}

	if err := m.store.SetTeamDefaultRole(ctx, teamID, roleID); err != nil {
		return err
	}
	members, err := m.store.GetTeamMemberIDs(ctx, teamID)
	if err != nil {
		return err
	}

	m.recordMutation(ctx, audit.EventTypeTeamDefaultRoleChange, audit.ResourceTypeTeam, teamID, &audit.ChangeDetails{
		Before: map[string]interface{}{"default_role_id": team.DefaultRoleID},
		After:  map[string]interface{}{"default_role_id": roleID},
	}, "team default role changed")
	return m.invalidateUsers(ctx, members)
}

// AddTeamMember adds a user to a team of the same tenant
func (m *Manager) AddTeamMember(ctx context.Context, tenantID, teamID, userID int64) error {
	if _, err := m.tenantTeam(ctx, tenantID, teamID); err != nil {
		return err
	}
	if err := m.tenantUser(ctx, tenantID, userID); err != nil {
		return err
	}
	if err := m.store.AddTeamMember(ctx, teamID, userID); err != nil {
		return err
	}

	m.recordMutation(ctx, audit.EventTypeTeamMemberAdd, audit.ResourceTypeTeam, teamID, &audit.ChangeDetails{
		After: map[string]interface{}{"user_id": userID},
	}, "team member added")
	return m.invalidateUsers(ctx, []int64{userID})
}

// RemoveTeamMember removes a user from a team
func (m *Manager) RemoveTeamMember(ctx context.Context, tenantID, teamID, userID int64) error {
	if _, err := m.tenantTeam(ctx, tenantID, teamID); err != nil {
		return err
	}
	if err := m.store.RemoveTeamMember(ctx, teamID, userID); err != nil {
		return err
	}

	m.recordMutation(ctx, audit.EventTypeTeamMemberRemove, audit.ResourceTypeTeam, teamID, &audit.ChangeDetails{
		Before: map[string]interface{}{"user_id": userID},
	}, "team member removed")
	return m.invalidateUsers(ctx, []int64{userID})
}

// ActorID returns the user id of the authenticated caller, if any
func (m *Manager) ActorID(ctx context.Context) (int64, bool) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return 0, false
	}
	return principal.UserID(m.config.UserIDClaims...)
}

func (m *Manager) invalidateRoleHolders(ctx context.Context, roleID int64) error {
	users, err := m.store.GetUserIDsForRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidationFailed, err)
	}
	return m.invalidateUsers(ctx, users)
}

// invalidateUsers attempts every user even when some fail
func (m *Manager) invalidateUsers(ctx context.Context, userIDs []int64) error {
	var errs []error
	for _, userID := range userIDs {
		if err := m.resolver.InvalidateUserPermissions(ctx, userID); err != nil {
			m.logger.WithError(err).WithField("user_id", userID).Error("Failed to invalidate cached permissions")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %d of %d users: %v", ErrInvalidationFailed, len(errs), len(userIDs), errors.Join(errs...))
	}
	return nil
}

// tenantRole loads a role and hides roles of other tenants behind ErrNotFound
func (m *Manager) tenantRole(ctx context.Context, tenantID, roleID int64) (*Role, error) {
	role, err := m.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return role, nil
}

func (m *Manager) tenantTeam(ctx context.Context, tenantID, teamID int64) (*Team, error) {
	team, err := m.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return team, nil
}

func (m *Manager) tenantUser(ctx context.Context, tenantID, userID int64) error {
	userTenant, err := m.store.GetUserTenantID(ctx, userID)
	if err != nil {
		return err
	}
	if userTenant != tenantID {
		return ErrNotFound
	}
	return nil
}

func (m *Manager) recordMutation(ctx context.Context, eventType audit.EventType, resourceType audit.ResourceType, resourceID int64, changes *audit.ChangeDetails, message string) {
	var actorID *int64
	if id, ok := m.ActorID(ctx); ok {
		actorID = &id
	}

	err := m.auditLogger.LogDataMutation(ctx, eventType, actorID, resourceType, strconv.FormatInt(resourceID, 10), changes, message)
	if err != nil {
		m.logger.WithError(err).WithField("event_type", string(eventType)).Warn("Failed to record audit event")
	}
}
