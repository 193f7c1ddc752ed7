// Package cache implements the per-service permission cache: an in-memory,
// eventually consistent copy of the authorization store's role permission
// sets and per-user auth data.
//
// Entry lifecycle is Absent -> Fetching -> Fresh -> Stale -> Absent. The
// Fetching state is carried by the singleflight group rather than stored on
// the entry: while a fetch is in flight all readers of that key wait on it,
// so at most one remote call per key exists at any time. An entry is never
// served in an unusable state; it is either servable (fresh, or stale within
// the grace window) or refreshed/removed before the read returns.
//
// Invalidation arrives as full-set change events. The per-role version guard
// (store sequence, locally observed order) makes event replay idempotent and
// discards delayed events that would resurrect outdated permissions. Fetch
// failures are distinguishable: callers get ErrUnavailable, never a
// fabricated empty permission set.
package cache
