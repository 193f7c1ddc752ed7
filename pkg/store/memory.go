package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campushq/permit/pkg/catalog"
	"github.com/campushq/permit/pkg/events"
	"github.com/campushq/permit/pkg/observability"
)

// MemoryStore is an in-memory Store for single-process deployments and
// tests. Mutations are serialized by a single mutex; events are published
// after the commit, outside the lock, relying on the caches' version guard
// for ordering (same contract as the SQL store).
type MemoryStore struct {
	mu       sync.RWMutex
	roles    map[string]*Role
	subjects map[string]*subject

	notifier events.Notifier
	logger   *observability.Logger
}

type subject struct {
	roles  map[string]bool
	grants map[string]bool
}

// NewMemoryStore creates an empty in-memory store. notifier may be nil when
// no consumer subscribes (tests exercising only the store).
func NewMemoryStore(notifier events.Notifier, logger *observability.Logger) *MemoryStore {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &MemoryStore{
		roles:    make(map[string]*Role),
		subjects: make(map[string]*subject),
		notifier: notifier,
		logger:   logger,
	}
}

// GetRolePermissions returns the role's permission set
func (s *MemoryStore) GetRolePermissions(ctx context.Context, roleName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[roleName]
	if !ok {
		return nil, ErrRoleNotFound
	}
	out := make([]string, len(role.Permissions))
	copy(out, role.Permissions)
	return out, nil
}

// AssignPermission adds a permission to the role's set and notifies
func (s *MemoryStore) AssignPermission(ctx context.Context, roleName string, permission catalog.Permission) error {
	name := permission.String()

	s.mu.Lock()
	role, ok := s.roles[roleName]
	if !ok {
		s.mu.Unlock()
		return ErrRoleNotFound
	}

	if !containsString(role.Permissions, name) {
		role.Permissions = append(role.Permissions, name)
		sort.Strings(role.Permissions)
	}
	role.Version++
	role.UpdatedAt = time.Now().UTC()
	event := events.NewRolePermissionsChanged(roleName, copyStrings(role.Permissions), role.Version)
	s.mu.Unlock()

	s.publish(ctx, event)
	return nil
}

// RevokePermission removes a permission from the role's set and notifies
func (s *MemoryStore) RevokePermission(ctx context.Context, roleName string, permission catalog.Permission) error {
	name := permission.String()

	s.mu.Lock()
	role, ok := s.roles[roleName]
	if !ok {
		s.mu.Unlock()
		return ErrRoleNotFound
	}

	role.Permissions = removeString(role.Permissions, name)
	role.Version++
	role.UpdatedAt = time.Now().UTC()
	event := events.NewRolePermissionsChanged(roleName, copyStrings(role.Permissions), role.Version)
	s.mu.Unlock()

	s.publish(ctx, event)
	return nil
}

// GetUserAuthData materializes the user's roles and the union of their
// permissions plus direct grants
func (s *MemoryStore) GetUserAuthData(ctx context.Context, userID string) (*UserAuthData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subjects[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	data := &UserAuthData{UserID: userID}
	permSet := make(map[string]bool)

	for roleName := range sub.roles {
		data.Roles = append(data.Roles, roleName)
		if role, ok := s.roles[roleName]; ok {
			for _, p := range role.Permissions {
				permSet[p] = true
			}
		}
	}
	for p := range sub.grants {
		permSet[p] = true
	}

	for p := range permSet {
		data.Permissions = append(data.Permissions, p)
	}
	sort.Strings(data.Roles)
	sort.Strings(data.Permissions)
	return data, nil
}

// CreateRole creates a role with an initial permission set
func (s *MemoryStore) CreateRole(ctx context.Context, role *Role) error {
	perms, err := catalog.NormalizeSet(role.Permissions)
	if err != nil {
		return err
	}
	sort.Strings(perms)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roles[role.Name]; exists {
		return ErrRoleExists
	}

	now := time.Now().UTC()
	role.Permissions = perms
	role.Version = 1
	role.CreatedAt = now
	role.UpdatedAt = now
	stored := *role
	stored.Permissions = copyStrings(perms)
	s.roles[role.Name] = &stored
	return nil
}

// DeleteRole removes a role and its assignments, notifying with an empty set
func (s *MemoryStore) DeleteRole(ctx context.Context, roleName string) error {
	s.mu.Lock()
	role, ok := s.roles[roleName]
	if !ok {
		s.mu.Unlock()
		return ErrRoleNotFound
	}
	version := role.Version + 1
	delete(s.roles, roleName)
	for _, sub := range s.subjects {
		delete(sub.roles, roleName)
	}
	event := events.NewRolePermissionsChanged(roleName, []string{}, version)
	s.mu.Unlock()

	s.publish(ctx, event)
	return nil
}

// AssignRoleToUser grants the user membership in the role
func (s *MemoryStore) AssignRoleToUser(ctx context.Context, userID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[roleName]; !ok {
		return ErrRoleNotFound
	}
	s.subjectLocked(userID).roles[roleName] = true
	return nil
}

// RevokeRoleFromUser removes the user's membership in the role
func (s *MemoryStore) RevokeRoleFromUser(ctx context.Context, userID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjects[userID]
	if !ok {
		return ErrUserNotFound
	}
	delete(sub.roles, roleName)
	return nil
}

// GrantUserPermission grants a permission directly to the user
func (s *MemoryStore) GrantUserPermission(ctx context.Context, userID string, permission catalog.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subjectLocked(userID).grants[permission.String()] = true
	return nil
}

// RevokeUserPermission removes a directly granted permission
func (s *MemoryStore) RevokeUserPermission(ctx context.Context, userID string, permission catalog.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjects[userID]
	if !ok {
		return ErrUserNotFound
	}
	delete(sub.grants, permission.String())
	return nil
}

// subjectLocked returns the subject record, creating it if absent.
// Callers must hold s.mu.
func (s *MemoryStore) subjectLocked(userID string) *subject {
	sub, ok := s.subjects[userID]
	if !ok {
		sub = &subject{roles: make(map[string]bool), grants: make(map[string]bool)}
		s.subjects[userID] = sub
	}
	return sub
}

func (s *MemoryStore) publish(ctx context.Context, event events.RolePermissionsChanged) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishRolePermissionsChanged(ctx, event); err != nil {
		// Fire-and-forget: the mutation is committed either way
		s.logger.WithError(err).WithField("role", event.RoleName).Error("Failed to publish change event")
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func copyStrings(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	return out
}
