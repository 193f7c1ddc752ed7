package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/campushq/permit/pkg/catalog"
)

// migrations holds the schema for the authorization store. Statements are
// idempotent so Migrate can run on every service start.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS roles (
		name        TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		permissions TEXT NOT NULL DEFAULT '[]',
		version     BIGINT NOT NULL DEFAULT 0,
		created_at  TIMESTAMP NOT NULL,
		updated_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subjects (
		user_id    TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id    TEXT NOT NULL,
		role_name  TEXT NOT NULL,
		granted_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, role_name)
	)`,
	`CREATE TABLE IF NOT EXISTS user_permissions (
		user_id    TEXT NOT NULL,
		permission TEXT NOT NULL,
		granted_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, permission)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles (role_name)`,
}

// Migrate creates the authorization store schema
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SeedBuiltInRoles creates the catalog's built-in roles if they do not
// already exist. Existing roles are left untouched: administrators own role
// contents after first seeding.
func SeedBuiltInRoles(ctx context.Context, s Store) error {
	for _, def := range catalog.BuiltInRoles() {
		perms := make([]string, 0, len(def.Permissions))
		for _, p := range def.Permissions {
			perms = append(perms, p.String())
		}
		err := s.CreateRole(ctx, &Role{
			Name:        def.Name,
			Description: def.Description,
			Permissions: perms,
		})
		if err != nil && err != ErrRoleExists {
			// The SQL store reports duplicates as a driver error rather
			// than ErrRoleExists; check for the role before treating the
			// failure as fatal.
			if _, lookupErr := s.GetRolePermissions(ctx, def.Name); lookupErr == nil {
				continue
			}
			return fmt.Errorf("failed to seed role %s: %w", def.Name, err)
		}
	}
	return nil
}
