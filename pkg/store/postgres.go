package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/campushq/permit/pkg/catalog"
	"github.com/campushq/permit/pkg/events"
	"github.com/campushq/permit/pkg/observability"
)

// maxUpdateRetries bounds the optimistic-concurrency retry loop for
// per-role mutations
const maxUpdateRetries = 5

// SQLStore is the SQL-backed Store used by the authorization service. Permission
// sets are stored as a JSON column; per-role mutations use optimistic
// version checks so two concurrent updates of the same role never lose an
// update, and the notifier always reflects the committed final state.
type SQLStore struct {
	db       *sql.DB
	notifier events.Notifier
	logger   *observability.Logger
}

// NewSQLStore creates a store on an open database handle
func NewSQLStore(db *sql.DB, notifier events.Notifier, logger *observability.Logger) *SQLStore {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &SQLStore{db: db, notifier: notifier, logger: logger}
}

// GetRolePermissions returns the role's permission set
func (s *SQLStore) GetRolePermissions(ctx context.Context, roleName string) ([]string, error) {
	perms, _, err := s.getRole(ctx, roleName)
	return perms, err
}

// GetRole retrieves the full role record
func (s *SQLStore) GetRole(ctx context.Context, roleName string) (*Role, error) {
	query := `
		SELECT name, description, permissions, version, created_at, updated_at
		FROM roles
		WHERE name = $1
	`

	var role Role
	var permissionsJSON string

	err := s.db.QueryRowContext(ctx, query, roleName).Scan(
		&role.Name,
		&role.Description,
		&permissionsJSON,
		&role.Version,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	return &role, nil
}

// AssignPermission adds a permission to the role's set and notifies
func (s *SQLStore) AssignPermission(ctx context.Context, roleName string, permission catalog.Permission) error {
	return s.mutateRole(ctx, roleName, func(perms []string) []string {
		name := permission.String()
		if containsString(perms, name) {
			return perms
		}
		perms = append(perms, name)
		sort.Strings(perms)
		return perms
	})
}

// RevokePermission removes a permission from the role's set and notifies
func (s *SQLStore) RevokePermission(ctx context.Context, roleName string, permission catalog.Permission) error {
	return s.mutateRole(ctx, roleName, func(perms []string) []string {
		return removeString(perms, permission.String())
	})
}

// mutateRole applies mutate to the role's permission set under an optimistic
// version check, retrying on concurrent-update conflicts. On commit it
// publishes the complete resulting set.
func (s *SQLStore) mutateRole(ctx context.Context, roleName string, mutate func([]string) []string) error {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		perms, version, err := s.getRole(ctx, roleName)
		if err != nil {
			return err
		}

		newPerms := mutate(copyStrings(perms))
		permissionsJSON, err := json.Marshal(newPerms)
		if err != nil {
			return fmt.Errorf("failed to marshal permissions: %w", err)
		}

		newVersion := version + 1
		query := `
			UPDATE roles
			SET permissions = $1, version = $2, updated_at = $3
			WHERE name = $4 AND version = $5
		`
		res, err := s.db.ExecContext(ctx, query,
			string(permissionsJSON),
			newVersion,
			time.Now().UTC(),
			roleName,
			version,
		)
		if err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read update result: %w", err)
		}
		if affected == 1 {
			s.publish(ctx, events.NewRolePermissionsChanged(roleName, newPerms, newVersion))
			return nil
		}
		// Version moved under us; retry against the fresh state
	}

	return fmt.Errorf("failed to update role %s: too many concurrent updates", roleName)
}

func (s *SQLStore) getRole(ctx context.Context, roleName string) ([]string, uint64, error) {
	query := `SELECT permissions, version FROM roles WHERE name = $1`

	var permissionsJSON string
	var version uint64
	err := s.db.QueryRowContext(ctx, query, roleName).Scan(&permissionsJSON, &version)
	if err == sql.ErrNoRows {
		return nil, 0, ErrRoleNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get role: %w", err)
	}

	var perms []string
	if err := json.Unmarshal([]byte(permissionsJSON), &perms); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return perms, version, nil
}

// GetUserAuthData materializes the user's roles and the union of their
// permissions plus direct grants
func (s *SQLStore) GetUserAuthData(ctx context.Context, userID string) (*UserAuthData, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM subjects WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	data := &UserAuthData{UserID: userID}
	permSet := make(map[string]bool)

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name, r.permissions
		FROM roles r
		JOIN user_roles ur ON r.name = ur.role_name
		WHERE ur.user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleName, permissionsJSON string
		if err := rows.Scan(&roleName, &permissionsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		var perms []string
		if err := json.Unmarshal([]byte(permissionsJSON), &perms); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions for role %s: %w", roleName, err)
		}
		data.Roles = append(data.Roles, roleName)
		for _, p := range perms {
			permSet[p] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user roles: %w", err)
	}

	grantRows, err := s.db.QueryContext(ctx, `SELECT permission FROM user_permissions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user permissions: %w", err)
	}
	defer grantRows.Close()

	for grantRows.Next() {
		var p string
		if err := grantRows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan user permission: %w", err)
		}
		permSet[p] = true
	}
	if err := grantRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user permissions: %w", err)
	}

	for p := range permSet {
		data.Permissions = append(data.Permissions, p)
	}
	sort.Strings(data.Roles)
	sort.Strings(data.Permissions)
	return data, nil
}

// CreateRole creates a role with an initial permission set
func (s *SQLStore) CreateRole(ctx context.Context, role *Role) error {
	perms, err := catalog.NormalizeSet(role.Permissions)
	if err != nil {
		return err
	}
	sort.Strings(perms)

	permissionsJSON, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO roles (name, description, permissions, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query,
		role.Name,
		role.Description,
		string(permissionsJSON),
		1,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.Permissions = perms
	role.Version = 1
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// DeleteRole removes a role and its assignments, notifying with an empty set
func (s *SQLStore) DeleteRole(ctx context.Context, roleName string) error {
	_, version, err := s.getRole(ctx, roleName)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE role_name = $1`, roleName); err != nil {
		return fmt.Errorf("failed to delete role assignments: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE name = $1`, roleName)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrRoleNotFound
	}

	s.publish(ctx, events.NewRolePermissionsChanged(roleName, []string{}, version+1))
	return nil
}

// AssignRoleToUser grants the user membership in the role
func (s *SQLStore) AssignRoleToUser(ctx context.Context, userID, roleName string) error {
	if _, _, err := s.getRole(ctx, roleName); err != nil {
		return err
	}
	if err := s.ensureSubject(ctx, userID); err != nil {
		return err
	}

	query := `
		INSERT INTO user_roles (user_id, role_name, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_name) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, roleName, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to assign role to user: %w", err)
	}
	return nil
}

// RevokeRoleFromUser removes the user's membership in the role
func (s *SQLStore) RevokeRoleFromUser(ctx context.Context, userID, roleName string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_name = $2`, userID, roleName)
	if err != nil {
		return fmt.Errorf("failed to revoke role from user: %w", err)
	}
	return nil
}

// GrantUserPermission grants a permission directly to the user
func (s *SQLStore) GrantUserPermission(ctx context.Context, userID string, permission catalog.Permission) error {
	if err := s.ensureSubject(ctx, userID); err != nil {
		return err
	}

	query := `
		INSERT INTO user_permissions (user_id, permission, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, permission) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, permission.String(), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to grant user permission: %w", err)
	}
	return nil
}

// RevokeUserPermission removes a directly granted permission
func (s *SQLStore) RevokeUserPermission(ctx context.Context, userID string, permission catalog.Permission) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission = $2`, userID, permission.String())
	if err != nil {
		return fmt.Errorf("failed to revoke user permission: %w", err)
	}
	return nil
}

func (s *SQLStore) ensureSubject(ctx context.Context, userID string) error {
	query := `
		INSERT INTO subjects (user_id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record subject: %w", err)
	}
	return nil
}

func (s *SQLStore) publish(ctx context.Context, event events.RolePermissionsChanged) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishRolePermissionsChanged(ctx, event); err != nil {
		s.logger.WithError(err).WithField("role", event.RoleName).Error("Failed to publish change event")
	}
}
