package store

import (
	"context"
	"errors"
	"time"

	"github.com/campushq/permit/pkg/catalog"
)

// Typed failures. A missing role or user is always reported as one of these,
// never as an empty permission set, so callers can tell "unknown subject"
// apart from "subject with no permissions".
var (
	ErrRoleNotFound   = errors.New("role not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrRoleExists     = errors.New("role already exists")
)

// Role is a named bundle of permissions. The store is the only component
// allowed to mutate the permission set; Version counts committed mutations
// and backs the caches' ordering guard.
type Role struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	Version     uint64    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserAuthData is the materialized per-user view consumed by evaluators:
// the union of all assigned roles' permissions plus direct grants. It is
// derived data and is never written back to the store.
type UserAuthData struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// HasRole reports whether the user holds the named role
func (d *UserAuthData) HasRole(roleName string) bool {
	for _, r := range d.Roles {
		if r == roleName {
			return true
		}
	}
	return false
}

// Store is the source of truth for role and user permission assignments.
//
// AssignPermission and RevokePermission are atomic per role: two concurrent
// mutations of the same role must not lose an update, and each committed
// mutation triggers the change notifier with the role's complete resulting
// permission set.
type Store interface {
	// GetRolePermissions returns the role's permission set.
	// Fails with ErrRoleNotFound for unknown roles.
	GetRolePermissions(ctx context.Context, roleName string) ([]string, error)

	// AssignPermission adds a permission to the role's set
	AssignPermission(ctx context.Context, roleName string, permission catalog.Permission) error

	// RevokePermission removes a permission from the role's set
	RevokePermission(ctx context.Context, roleName string, permission catalog.Permission) error

	// GetUserAuthData returns the user's materialized roles and permissions.
	// Fails with ErrUserNotFound for unknown users.
	GetUserAuthData(ctx context.Context, userID string) (*UserAuthData, error)

	// CreateRole creates a role with an initial permission set
	CreateRole(ctx context.Context, role *Role) error

	// DeleteRole removes a role and all assignments of it. Consumers receive
	// a change event with an empty permission set.
	DeleteRole(ctx context.Context, roleName string) error

	// AssignRoleToUser grants the user membership in the role
	AssignRoleToUser(ctx context.Context, userID, roleName string) error

	// RevokeRoleFromUser removes the user's membership in the role
	RevokeRoleFromUser(ctx context.Context, userID, roleName string) error

	// GrantUserPermission grants a permission directly to the user, outside
	// any role
	GrantUserPermission(ctx context.Context, userID string, permission catalog.Permission) error

	// RevokeUserPermission removes a directly granted permission
	RevokeUserPermission(ctx context.Context, userID string, permission catalog.Permission) error
}
