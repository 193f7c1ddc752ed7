// Package store implements the authorization store: the source of truth for
// role permission sets, user role membership, and direct user grants.
//
// The store is the only component allowed to mutate role permission
// assignments. Every committed mutation synchronously triggers the change
// notifier with the role's complete resulting permission set (never a
// delta), so subscribers can apply events idempotently without reconciling
// partial updates. The per-role version column provides the monotonic
// sequence the caches use to discard delayed or duplicated events.
//
// SQLStore runs in the identity service; MemoryStore backs tests and
// single-process deployments. Remote services consume the store through the
// api package's client, not by importing an implementation.
package store
