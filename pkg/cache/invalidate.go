package cache

import (
	"context"
	"time"

	"github.com/campushq/permit/pkg/events"
)

// Handler returns the events.Handler that applies change events to this
// cache. Wire it to the subscriber at service startup.
func (c *PermissionCache) Handler() events.Handler {
	return c.ApplyRoleChange
}

// ApplyRoleChange applies a role permission change event.
//
// The role entry is overwritten with the event's full permission set; every
// cached user entry whose role set includes the role is marked stale (not
// deleted, so the grace policy can still serve it while a refresh runs).
//
// Events carry the store's per-role sequence; an event not newer than the
// locally recorded version is discarded, which makes replay idempotent and
// prevents a delayed event from resurrecting an outdated permission set.
func (c *PermissionCache) ApplyRoleChange(ctx context.Context, event events.RolePermissionsChanged) error {
	now := time.Now()

	c.mu.Lock()
	existing := c.roles[event.RoleName]

	if existing != nil && event.Sequence != 0 && event.Sequence <= existing.version {
		c.mu.Unlock()
		c.logger.WithFields(map[string]interface{}{
			"role":     event.RoleName,
			"sequence": event.Sequence,
			"version":  existing.version,
		}).Debug("Discarding out-of-order change event")
		if c.metrics != nil {
			c.metrics.EventsDiscardedTotal.WithLabelValues("stale_sequence").Inc()
		}
		return nil
	}

	version := event.Sequence
	if version == 0 {
		// Events without a store sequence fall back to local arrival order
		if existing != nil {
			version = existing.version + 1
		} else {
			version = 1
		}
	}

	perms := make([]string, len(event.Permissions))
	copy(perms, event.Permissions)
	c.roles[event.RoleName] = &roleEntry{
		permissions: perms,
		version:     version,
		fetchedAt:   now,
		state:       stateFresh,
	}

	for _, key := range c.users.Keys() {
		entry, ok := c.users.Peek(key)
		if !ok || entry.data == nil {
			continue
		}
		if entry.data.HasRole(event.RoleName) && entry.state != stateStale {
			entry.state = stateStale
			entry.staleSince = now
		}
	}

	c.eventSeq++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.EventsAppliedTotal.Inc()
	}
	c.updateEntryGauges()
	return nil
}

// sweep evicts entries that are stale beyond the grace window: they can no
// longer be served, so holding them only costs memory. Runs on the cache's
// cron schedule.
func (c *PermissionCache) sweep() {
	select {
	case <-c.closed:
		return
	default:
	}

	now := time.Now()
	cutoff := c.config.StaleGrace

	c.mu.Lock()
	for name, entry := range c.roles {
		if entry.state == stateStale && now.Sub(entry.staleSince) > cutoff {
			delete(c.roles, name)
			c.countEviction("role")
		}
	}
	for _, key := range c.users.Keys() {
		entry, ok := c.users.Peek(key)
		if !ok {
			continue
		}
		if entry.state == stateStale && now.Sub(entry.staleSince) > cutoff {
			c.users.Remove(key)
		}
	}
	c.mu.Unlock()
	c.updateEntryGauges()
}
