package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

var (
	// ErrNotFound indicates that the requested record does not exist
	ErrNotFound = errors.New("rbac: not found")

	// ErrSystemRole is returned when trying to delete a system role
	ErrSystemRole = errors.New("rbac: system roles cannot be deleted")

	// ErrRoleInUse is returned when deleting a role that is still assigned
	// directly or as a team default
	ErrRoleInUse = errors.New("rbac: role is still assigned")

	// ErrDuplicateName is returned when a tenant already has a role or team
	// with the requested name
	ErrDuplicateName = errors.New("rbac: name already exists")
)

// DBTX is the subset of *sql.DB and *sql.Tx used by the store
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store handles RBAC data persistence
type Store struct {
	conn *sql.DB
	db   DBTX
	now  func() time.Time
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{conn: db, db: db, now: time.Now}
}

// InTx runs fn against a store bound to a single transaction.
// The transaction is committed when fn returns nil and rolled back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.conn == nil {
		// Already inside a transaction
		return fn(s)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if err := fn(&Store{db: tx, now: s.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRoleIDsForUser returns the ids of every role a user holds, directly or
// through the default role of a team they belong to, in one round trip.
func (s *Store) GetRoleIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT role_id FROM user_role_assignments WHERE user_id = $1
		UNION
		SELECT t.default_role_id
		FROM team_members tm
		JOIN teams t ON t.id = tm.team_id
		WHERE tm.user_id = $1 AND t.default_role_id IS NOT NULL
		ORDER BY 1
	`

	ids, err := s.queryIDs(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get role ids for user: %w", err)
	}
	return ids, nil
}

// GetRolePermissions returns the permission rows matching an entity/operation
// pair across the given roles
func (s *Store) GetRolePermissions(ctx context.Context, roleIDs []int64, entityType EntityType, operation Operation) ([]RolePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT role_id, entity_type, operation, scope
		FROM role_permissions
		WHERE entity_type = $1 AND operation = $2 AND role_id IN (` + placeholders(3, len(roleIDs)) + `)
	`

	args := append([]interface{}{string(entityType), string(operation)}, idArgs(roleIDs)...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	var perms []RolePermission
	for rows.Next() {
		perm, err := scanRolePermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}

	return perms, rows.Err()
}

// GetMaxScopes returns, for every entity/operation pair granted by any of the
// given roles, the most permissive scope among them
func (s *Store) GetMaxScopes(ctx context.Context, roleIDs []int64) ([]EffectivePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT entity_type, operation, MAX(scope)
		FROM role_permissions
		WHERE role_id IN (` + placeholders(1, len(roleIDs)) + `)
		GROUP BY entity_type, operation
		ORDER BY entity_type, operation
	`

	rows, err := s.db.QueryContext(ctx, query, idArgs(roleIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get max scopes: %w", err)
	}
	defer rows.Close()

	var perms []EffectivePermission
	for rows.Next() {
		var entityType, operation string
		var scope int64
		if err := rows.Scan(&entityType, &operation, &scope); err != nil {
			return nil, fmt.Errorf("failed to scan max scope: %w", err)
		}
		perms = append(perms, EffectivePermission{
			EntityType: EntityType(entityType),
			Operation:  Operation(operation),
			Scope:      Scope(scope),
		})
	}

	return perms, rows.Err()
}

// GetRoleFieldPermissions returns field overrides for one field across the given roles
func (s *Store) GetRoleFieldPermissions(ctx context.Context, roleIDs []int64, entityType EntityType, fieldName string) ([]RoleFieldPermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT role_id, entity_type, field_name, access_level
		FROM role_field_permissions
		WHERE entity_type = $1 AND field_name = $2 AND role_id IN (` + placeholders(3, len(roleIDs)) + `)
	`

	args := append([]interface{}{string(entityType), fieldName}, idArgs(roleIDs)...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get role field permissions: %w", err)
	}
	defer rows.Close()

	var perms []RoleFieldPermission
	for rows.Next() {
		var fp RoleFieldPermission
		var entity string
		var level int64
		if err := rows.Scan(&fp.RoleID, &entity, &fp.FieldName, &level); err != nil {
			return nil, fmt.Errorf("failed to scan role field permission: %w", err)
		}
		fp.EntityType = EntityType(entity)
		fp.AccessLevel = AccessLevel(level)
		perms = append(perms, fp)
	}

	return perms, rows.Err()
}

// HasTemplateRoles reports whether the tenant already has any template role
func (s *Store) HasTemplateRoles(ctx context.Context, tenantID int64) (bool, error) {
	query := `SELECT COUNT(*) FROM roles WHERE tenant_id = $1 AND is_template = TRUE`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check template roles: %w", err)
	}
	return count > 0, nil
}

// ListTemplateRoles returns the tenant's template roles ordered by id
func (s *Store) ListTemplateRoles(ctx context.Context, tenantID int64) ([]Role, error) {
	query := `
		SELECT id, tenant_id, name, description, is_system, is_template, created_at, updated_at
		FROM roles
		WHERE tenant_id = $1 AND is_template = TRUE
		ORDER BY id
	`
	return s.queryRoles(ctx, query, tenantID)
}

// ListTenantIDs returns up to limit distinct tenant ids of active users
// greater than afterID, in ascending order
func (s *Store) ListTenantIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	query := `
		SELECT DISTINCT tenant_id
		FROM users
		WHERE is_active = TRUE AND tenant_id > $1
		ORDER BY tenant_id
		LIMIT $2
	`

	ids, err := s.queryIDs(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant ids: %w", err)
	}
	return ids, nil
}

// ForEachTenantID streams tenant ids page by page, calling fn for each.
// At most one page is held in memory and no result set stays open while fn runs.
func (s *Store) ForEachTenantID(ctx context.Context, pageSize int, fn func(tenantID int64) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}

	var after int64
	for {
		ids, err := s.ListTenantIDs(ctx, after, pageSize)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := fn(id); err != nil {
				return err
			}
		}
		if len(ids) < pageSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

// GetUserIDsForRole returns every user holding the role directly or through a team default
func (s *Store) GetUserIDsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	query := `
		SELECT user_id FROM user_role_assignments WHERE role_id = $1
		UNION
		SELECT tm.user_id
		FROM team_members tm
		JOIN teams t ON t.id = tm.team_id
		WHERE t.default_role_id = $1
		ORDER BY 1
	`

	ids, err := s.queryIDs(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get users for role: %w", err)
	}
	return ids, nil
}

// GetTeamMemberIDs returns the user ids of a team's members
func (s *Store) GetTeamMemberIDs(ctx context.Context, teamID int64) ([]int64, error) {
	ids, err := s.queryIDs(ctx, `SELECT user_id FROM team_members WHERE team_id = $1 ORDER BY user_id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get team members: %w", err)
	}
	return ids, nil
}

// GetUserTenantID returns the tenant a user belongs to
func (s *Store) GetUserTenantID(ctx context.Context, userID int64) (int64, error) {
	var tenantID int64
	err := s.db.QueryRowContext(ctx, `SELECT tenant_id FROM users WHERE id = $1`, userID).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get user tenant: %w", err)
	}
	return tenantID, nil
}

// CreateRole creates a new role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (tenant_id, name, description, is_system, is_template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		role.TenantID,
		role.Name,
		role.Description,
		role.IsSystem,
		role.IsTemplate,
		now,
		now,
	).Scan(&role.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT id, tenant_id, name, description, is_system, is_template, created_at, updated_at
		FROM roles
		WHERE id = $1
	`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists a tenant's roles, templates first
func (s *Store) ListRoles(ctx context.Context, tenantID int64) ([]Role, error) {
	query := `
		SELECT id, tenant_id, name, description, is_system, is_template, created_at, updated_at
		FROM roles
		WHERE tenant_id = $1
		ORDER BY is_template DESC, name ASC
	`
	return s.queryRoles(ctx, query, tenantID)
}

// DeleteRole deletes an unassigned, non-system role and its permissions
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	return s.InTx(ctx, func(tx *Store) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return ErrSystemRole
		}

		var refs int64
		err = tx.db.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM user_role_assignments WHERE role_id = $1)
			     + (SELECT COUNT(*) FROM teams WHERE default_role_id = $1)
		`, roleID).Scan(&refs)
		if err != nil {
			return fmt.Errorf("failed to check role references: %w", err)
		}
		if refs > 0 {
			return ErrRoleInUse
		}

		for _, q := range []string{
			`DELETE FROM role_field_permissions WHERE role_id = $1`,
			`DELETE FROM role_permissions WHERE role_id = $1`,
			`DELETE FROM roles WHERE id = $1`,
		} {
			if _, err := tx.db.ExecContext(ctx, q, roleID); err != nil {
				return fmt.Errorf("failed to delete role: %w", err)
			}
		}
		return nil
	})
}

// ListRolePermissions returns every permission row of a role
func (s *Store) ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	query := `
		SELECT role_id, entity_type, operation, scope
		FROM role_permissions
		WHERE role_id = $1
		ORDER BY entity_type, operation
	`

	rows, err := s.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var perms []RolePermission
	for rows.Next() {
		perm, err := scanRolePermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}

	return perms, rows.Err()
}

// InsertRolePermissionIfMissing inserts a permission row unless one already
// exists for the role/entity/operation. Existing rows are never modified.
func (s *Store) InsertRolePermissionIfMissing(ctx context.Context, perm RolePermission) (bool, error) {
	query := `
		INSERT INTO role_permissions (role_id, entity_type, operation, scope)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role_id, entity_type, operation) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query, perm.RoleID, string(perm.EntityType), string(perm.Operation), int(perm.Scope))
	if err != nil {
		return false, fmt.Errorf("failed to insert role permission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert role permission: %w", err)
	}
	return n > 0, nil
}

// UpsertRolePermission sets the scope of a role's entity/operation permission
func (s *Store) UpsertRolePermission(ctx context.Context, perm RolePermission) error {
	query := `
		INSERT INTO role_permissions (role_id, entity_type, operation, scope)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role_id, entity_type, operation) DO UPDATE SET scope = EXCLUDED.scope
	`

	if _, err := s.db.ExecContext(ctx, query, perm.RoleID, string(perm.EntityType), string(perm.Operation), int(perm.Scope)); err != nil {
		return fmt.Errorf("failed to upsert role permission: %w", err)
	}
	return nil
}

// UpsertRoleFieldPermission sets the access level of a role's field override
func (s *Store) UpsertRoleFieldPermission(ctx context.Context, perm RoleFieldPermission) error {
	query := `
		INSERT INTO role_field_permissions (role_id, entity_type, field_name, access_level)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role_id, entity_type, field_name) DO UPDATE SET access_level = EXCLUDED.access_level
	`

	if _, err := s.db.ExecContext(ctx, query, perm.RoleID, string(perm.EntityType), perm.FieldName, int(perm.AccessLevel)); err != nil {
		return fmt.Errorf("failed to upsert role field permission: %w", err)
	}
	return nil
}

// AssignRoleToUser grants a role directly to a user. Assigning twice is a no-op.
func (s *Store) AssignRoleToUser(ctx context.Context, userID, roleID int64) error {
	query := `
		INSERT INTO user_role_assignments (user_id, role_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, userID, roleID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to assign role to user: %w", err)
	}
	return nil
}

// RevokeRoleFromUser removes a direct role grant
func (s *Store) RevokeRoleFromUser(ctx context.Context, userID, roleID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_role_assignments WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to revoke role from user: %w", err)
	}
	return requireAffected(result, "failed to revoke role from user")
}

// CreateTeam creates a new team
func (s *Store) CreateTeam(ctx context.Context, team *Team) error {
	query := `
		INSERT INTO teams (tenant_id, name, default_role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := s.now().UTC()
	err := s.db.QueryRowContext(ctx, query,
		team.TenantID,
		team.Name,
		nullableID(team.DefaultRoleID),
		now,
		now,
	).Scan(&team.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("failed to create team: %w", err)
	}

	team.CreatedAt = now
	team.UpdatedAt = now
	return nil
}

// GetTeam retrieves a team by ID
func (s *Store) GetTeam(ctx context.Context, teamID int64) (*Team, error) {
	query := `
		SELECT id, tenant_id, name, default_role_id, created_at, updated_at
		FROM teams
		WHERE id = $1
	`

	var team Team
	var defaultRoleID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, teamID).Scan(
		&team.ID,
		&team.TenantID,
		&team.Name,
		&defaultRoleID,
		&team.CreatedAt,
		&team.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}

	if defaultRoleID.Valid {
		id := defaultRoleID.Int64
		team.DefaultRoleID = &id
	}
	return &team, nil
}

// SetTeamDefaultRole sets or clears (nil) the role inherited by team members
func (s *Store) SetTeamDefaultRole(ctx context.Context, teamID int64, roleID *int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE teams SET default_role_id = $1, updated_at = $2 WHERE id = $3`,
		nullableID(roleID), s.now().UTC(), teamID,
	)
	if err != nil {
		return fmt.Errorf("failed to set team default role: %w", err)
	}
	return requireAffected(result, "failed to set team default role")
}

// AddTeamMember adds a user to a team. Adding twice is a no-op.
func (s *Store) AddTeamMember(ctx context.Context, teamID, userID int64) error {
	query := `
		INSERT INTO team_members (team_id, user_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, teamID, userID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to add team member: %w", err)
	}
	return nil
}

// RemoveTeamMember removes a user from a team
func (s *Store) RemoveTeamMember(ctx context.Context, teamID, userID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove team member: %w", err)
	}
	return requireAffected(result, "failed to remove team member")
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...interface{}) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// scanRole scans a role from a database row
func scanRole(scanner interface {
	Scan(dest ...interface{}) error
}) (*Role, error) {
	var role Role
	var description sql.NullString

	err := scanner.Scan(
		&role.ID,
		&role.TenantID,
		&role.Name,
		&description,
		&role.IsSystem,
		&role.IsTemplate,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	role.Description = description.String
	return &role, nil
}

func scanRolePermission(rows *sql.Rows) (RolePermission, error) {
	var perm RolePermission
	var entityType, operation string
	var scope int64
	if err := rows.Scan(&perm.RoleID, &entityType, &operation, &scope); err != nil {
		return RolePermission{}, fmt.Errorf("failed to scan role permission: %w", err)
	}
	perm.EntityType = EntityType(entityType)
	perm.Operation = Operation(operation)
	perm.Scope = Scope(scope)
	return perm, nil
}

func requireAffected(result sql.Result, msg string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// placeholders renders n positional parameters starting at $start
func placeholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}

func idArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// isUniqueViolation reports postgres unique_violation (23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
