package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/scopeguard/pkg/observability"
)

// sqliteSchema mirrors the postgres migrations in sqlite syntax
const sqliteSchema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		email TEXT NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		is_system BOOLEAN NOT NULL DEFAULT FALSE,
		is_template BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(tenant_id, name)
	);

	CREATE TABLE role_permissions (
		role_id INTEGER NOT NULL REFERENCES roles(id),
		entity_type TEXT NOT NULL,
		operation TEXT NOT NULL,
		scope SMALLINT NOT NULL,
		PRIMARY KEY (role_id, entity_type, operation)
	);

	CREATE TABLE role_field_permissions (
		role_id INTEGER NOT NULL REFERENCES roles(id),
		entity_type TEXT NOT NULL,
		field_name TEXT NOT NULL,
		access_level SMALLINT NOT NULL,
		PRIMARY KEY (role_id, entity_type, field_name)
	);

	CREATE TABLE user_role_assignments (
		user_id INTEGER NOT NULL,
		role_id INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, role_id)
	);

	CREATE TABLE teams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		default_role_id INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(tenant_id, name)
	);

	CREATE TABLE team_members (
		team_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		added_at TIMESTAMP NOT NULL,
		PRIMARY KEY (team_id, user_id)
	);
`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err, "failed to create schema")
	return db
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

var userSeq int

func createUser(t *testing.T, db *sql.DB, tenantID int64) int64 {
	t.Helper()
	userSeq++
	result, err := db.Exec(`INSERT INTO users (tenant_id, email) VALUES (?, ?)`, tenantID, fmt.Sprintf("user%d@example.com", userSeq))
	require.NoError(t, err)
	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func deactivateUser(t *testing.T, db *sql.DB, userID int64) {
	t.Helper()
	_, err := db.Exec(`UPDATE users SET is_active = FALSE WHERE id = ?`, userID)
	require.NoError(t, err)
}

func createRole(t *testing.T, store *Store, tenantID int64, name string, perms ...RolePermission) *Role {
	t.Helper()
	ctx := context.Background()

	role := &Role{TenantID: tenantID, Name: name}
	require.NoError(t, store.CreateRole(ctx, role))
	for _, perm := range perms {
		perm.RoleID = role.ID
		require.NoError(t, store.UpsertRolePermission(ctx, perm))
	}
	return role
}

func grant(entity EntityType, op Operation, scope Scope) RolePermission {
	return RolePermission{EntityType: entity, Operation: op, Scope: scope}
}

func createTeam(t *testing.T, store *Store, tenantID int64, name string, defaultRoleID *int64, members ...int64) *Team {
	t.Helper()
	ctx := context.Background()

	team := &Team{TenantID: tenantID, Name: name, DefaultRoleID: defaultRoleID}
	require.NoError(t, store.CreateTeam(ctx, team))
	for _, userID := range members {
		require.NoError(t, store.AddTeamMember(ctx, team.ID, userID))
	}
	return team
}

func countRows(t *testing.T, db *sql.DB, query string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}

func int64Ptr(v int64) *int64 {
	return &v
}
