// Package gate enforces declarative authorization in front of HTTP handlers.
// A PolicyTable maps operation identifiers to required permissions, built at
// startup from code or a YAML file; the Gate consults the evaluator before a
// protected handler runs. Unavailable authorization data fails closed unless
// explicitly configured otherwise.
package gate
