package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/scopeguard/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
	Down        string
}

// GetMigrations returns all RBAC migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					email VARCHAR(255) NOT NULL UNIQUE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_tenant_active ON users(tenant_id) WHERE is_active;
			`,
			Down: `DROP TABLE IF EXISTS users;`,
		},
		{
			Version:     2,
			Description: "Create roles and permission tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					is_template BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, name)
				);

				CREATE INDEX IF NOT EXISTS idx_roles_tenant_template ON roles(tenant_id) WHERE is_template;

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					entity_type VARCHAR(64) NOT NULL,
					operation VARCHAR(32) NOT NULL,
					scope SMALLINT NOT NULL CHECK (scope BETWEEN 0 AND 3),
					PRIMARY KEY (role_id, entity_type, operation)
				);

				CREATE TABLE IF NOT EXISTS role_field_permissions (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					entity_type VARCHAR(64) NOT NULL,
					field_name VARCHAR(128) NOT NULL,
					access_level SMALLINT NOT NULL CHECK (access_level BETWEEN 0 AND 2),
					PRIMARY KEY (role_id, entity_type, field_name)
				);
			`,
			Down: `
				DROP TABLE IF EXISTS role_field_permissions;
				DROP TABLE IF EXISTS role_permissions;
				DROP TABLE IF EXISTS roles;
			`,
		},
		{
			Version:     3,
			Description: "Create user role assignments",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_role_assignments (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_role_assignments_role ON user_role_assignments(role_id);
			`,
			Down: `DROP TABLE IF EXISTS user_role_assignments;`,
		},
		{
			Version:     4,
			Description: "Create teams and team members",
			SQL: `
				CREATE TABLE IF NOT EXISTS teams (
					id BIGSERIAL PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					name VARCHAR(255) NOT NULL,
					default_role_id BIGINT REFERENCES roles(id),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, name)
				);

				CREATE INDEX IF NOT EXISTS idx_teams_default_role ON teams(default_role_id) WHERE default_role_id IS NOT NULL;

				CREATE TABLE IF NOT EXISTS team_members (
					team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					added_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (team_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_team_members_user ON team_members(user_id);
			`,
			Down: `
				DROP TABLE IF EXISTS team_members;
				DROP TABLE IF EXISTS teams;
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.Infof("Running migration %d: %s", migration.Version, migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// RollbackMigration reverts a single applied migration
func RollbackMigration(ctx context.Context, db *sql.DB, version int) error {
	var migration *Migration
	for _, m := range GetMigrations() {
		if m.Version == version {
			m := m
			migration = &m
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("unknown migration version %d", version)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to roll back migration %d: %w", version, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM rbac_migrations WHERE version = $1", version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to unrecord migration %d: %w", version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback of migration %d: %w", version, err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
