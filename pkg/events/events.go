package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RolePermissionsChanged is published whenever a role's permission set is
// mutated. It carries the complete resulting permission set, never a delta,
// so replaying or reordering deliveries cannot leave a consumer with a
// partially applied state.
type RolePermissionsChanged struct {
	// ID uniquely identifies the event for logging and dedup diagnostics
	ID string `json:"id"`

	// RoleName is the mutated role
	RoleName string `json:"role_name"`

	// Permissions is the role's full permission set after the mutation
	Permissions []string `json:"permissions"`

	// Sequence is the store's monotonic per-role mutation counter. Consumers
	// discard events whose sequence is not newer than the one they last
	// applied for the role.
	Sequence uint64 `json:"sequence"`

	// OccurredAt is the commit time at the store
	OccurredAt time.Time `json:"occurred_at"`
}

// NewRolePermissionsChanged builds an event with a fresh ID and timestamp
func NewRolePermissionsChanged(roleName string, permissions []string, sequence uint64) RolePermissionsChanged {
	return RolePermissionsChanged{
		ID:          uuid.NewString(),
		RoleName:    roleName,
		Permissions: permissions,
		Sequence:    sequence,
		OccurredAt:  time.Now().UTC(),
	}
}

// Handler processes a delivered event. Delivery is at-least-once; handlers
// must be idempotent. A handler error is logged by the subscriber and does
// not stop delivery.
type Handler func(ctx context.Context, event RolePermissionsChanged) error

// Notifier publishes role permission change events to all subscribing
// services. Publishing is fire-and-forget from the store's perspective: a
// publish failure is reported to the caller for logging but does not roll
// back the committed mutation.
type Notifier interface {
	PublishRolePermissionsChanged(ctx context.Context, event RolePermissionsChanged) error
}

// Subscriber delivers published events to a registered handler on a
// background task until the context is canceled or Close is called.
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}
