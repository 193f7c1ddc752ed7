// Package evaluator implements the policy evaluation engine: it resolves a
// principal to cached auth data and decides Allow, Deny, or Unavailable for
// a required permission. The fail-open/fail-closed choice on Unavailable
// belongs to the caller (the gate), not to the evaluator.
package evaluator
