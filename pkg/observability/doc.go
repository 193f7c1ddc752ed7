// Package observability provides structured logging, Prometheus metrics,
// health probes, and graceful shutdown for the authorization services.
//
// The metrics here are part of the subsystem's contract, not decoration:
// stale-served cache reads and discarded change events must be observable
// (they are legitimate states, not errors) and are counted here.
package observability
