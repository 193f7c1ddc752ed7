// Package events carries role permission change notifications between the
// authorization store and the permission caches of consuming services.
//
// Events are full-set replacements: each RolePermissionsChanged message holds
// the role's complete permission set as of the mutation that produced it.
// Combined with the per-role sequence counter this makes delivery replay and
// cross-role reordering harmless, which is all redis pub/sub (at-least-once
// to connected subscribers, no cross-channel ordering) can promise.
//
// Two notifier implementations are provided: RedisNotifier for multi-service
// deployments and Bus for single-process wiring and tests. Both satisfy the
// Notifier and Subscriber contracts, so the store and cache never know which
// transport is underneath.
package events
