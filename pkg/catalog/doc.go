// Package catalog defines the static permission vocabulary shared by the
// authorization store, cache, and gate: resource types, actions, and the
// (resource, action) permission value type with its "Resource.Action" policy
// name form.
//
// The catalog is pure data. It holds no runtime state and has no knowledge of
// roles beyond the built-in seed definitions.
package catalog
