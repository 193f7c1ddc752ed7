package gate

import (
	"encoding/json"
	"net/http"

	"github.com/campushq/permit/pkg/catalog"
	"github.com/campushq/permit/pkg/evaluator"
	"github.com/campushq/permit/pkg/middleware"
	"github.com/campushq/permit/pkg/observability"
)

// Config controls how the gate translates decisions into HTTP outcomes
type Config struct {
	// FailOpen allows requests through when authorization data is
	// unavailable. Default is false: an outage rejects with 503.
	FailOpen bool
}

// Gate enforces the policy table in front of HTTP handlers. Every protected
// operation consults the evaluator before the handler runs; a handler behind
// the gate never executes on a denied or unavailable decision.
type Gate struct {
	table     *PolicyTable
	evaluator *evaluator.Evaluator
	config    Config
	logger    *observability.Logger
}

// New creates an authorization gate over the given policy table and evaluator
func New(table *PolicyTable, eval *evaluator.Evaluator, config Config, logger *observability.Logger) *Gate {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Gate{table: table, evaluator: eval, config: config, logger: logger}
}

// Protect wraps a handler with the permission check for a registered
// operation. Wrapping an operation missing from the table yields a handler
// that always rejects; an unregistered operation is a deployment mistake,
// not an implicit allow.
func (g *Gate) Protect(operation string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required, ok := g.table.Lookup(operation)
		if !ok {
			g.logger.WithField("operation", operation).Error("Operation has no policy table entry, rejecting")
			writeDecision(w, http.StatusForbidden, "operation not registered")
			return
		}
		g.enforce(w, r, operation, required, next)
	})
}

// ProtectFunc is Protect for handler funcs
func (g *Gate) ProtectFunc(operation string, next http.HandlerFunc) http.Handler {
	return g.Protect(operation, next)
}

// Require wraps a handler with a check for an explicit permission, bypassing
// the table. Useful for handlers composed outside the declarative table.
func (g *Gate) Require(required catalog.Permission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.enforce(w, r, required.String(), required, next)
	})
}

func (g *Gate) enforce(w http.ResponseWriter, r *http.Request, operation string, required catalog.Permission, next http.Handler) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		writeDecision(w, http.StatusUnauthorized, "authentication required")
		return
	}

	result := g.evaluator.Authorize(r.Context(), *principal, required)
	switch result.Decision {
	case evaluator.Allow:
		next.ServeHTTP(w, r)
	case evaluator.Unavailable:
		if g.config.FailOpen {
			g.logger.WithFields(map[string]interface{}{
				"user_id":   principal.UserID,
				"operation": operation,
			}).Warn("Authorization unavailable, failing open by configuration")
			next.ServeHTTP(w, r)
			return
		}
		g.logger.WithFields(map[string]interface{}{
			"user_id":   principal.UserID,
			"operation": operation,
			"reason":    result.Reason,
		}).Warn("Authorization unavailable, failing closed")
		writeDecision(w, http.StatusServiceUnavailable, "authorization temporarily unavailable")
	default:
		writeDecision(w, http.StatusForbidden, "permission denied")
	}
}

func writeDecision(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
