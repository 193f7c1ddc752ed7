package evaluator

import (
	"context"
	"errors"
	"time"

	"github.com/campushq/permit/pkg/cache"
	"github.com/campushq/permit/pkg/catalog"
	"github.com/campushq/permit/pkg/observability"
	"github.com/campushq/permit/pkg/store"
)

// Decision is the outcome of an authorization check
type Decision int

const (
	// Deny is the zero value: an uninitialized decision never allows
	Deny Decision = iota
	Allow
	// Unavailable means no authorization data could be produced. Callers
	// choose the fail policy; the evaluator never converts it to Allow.
	Unavailable
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Unavailable:
		return "unavailable"
	default:
		return "deny"
	}
}

// Principal is the authenticated identity attached to a request. Token
// validation happens upstream; the evaluator only needs the resolved user ID.
type Principal struct {
	UserID string
}

// Result carries a decision and its explanation
type Result struct {
	Decision          Decision
	Reason            string
	MatchedPermission string
	CheckedAt         time.Time
}

// Evaluator decides allow/deny for a principal and a required permission by
// consulting the permission cache
type Evaluator struct {
	cache   *cache.PermissionCache
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates a policy evaluator over the given cache
func New(c *cache.PermissionCache, logger *observability.Logger, metrics *observability.Metrics) *Evaluator {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Evaluator{cache: c, logger: logger, metrics: metrics}
}

// Authorize resolves the principal's auth data through the cache and checks
// the required permission. A wildcard-resource grant for the same action
// allows. Cache/store unavailability yields Unavailable, never Allow and
// never a silent Deny that hides the outage.
func (e *Evaluator) Authorize(ctx context.Context, principal Principal, required catalog.Permission) Result {
	start := time.Now()
	result := e.authorize(ctx, principal, required)
	result.CheckedAt = time.Now()

	if e.metrics != nil {
		outcome := result.Decision.String()
		e.metrics.DecisionsTotal.WithLabelValues(outcome).Inc()
		e.metrics.DecisionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}

	return result
}

func (e *Evaluator) authorize(ctx context.Context, principal Principal, required catalog.Permission) Result {
	if principal.UserID == "" {
		return Result{Decision: Deny, Reason: "no principal"}
	}
	if required.IsZero() {
		return Result{Decision: Deny, Reason: "no required permission declared"}
	}

	data, err := e.cache.GetUserAuthData(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			// The store authoritatively knows nothing about this user:
			// a definite deny, not an outage
			return Result{Decision: Deny, Reason: "unknown user"}
		}
		e.logger.WithError(err).WithField("user_id", principal.UserID).Warn("Authorization data unavailable")
		return Result{Decision: Unavailable, Reason: err.Error()}
	}

	if match, ok := catalog.GrantSatisfies(data.Permissions, required); ok {
		return Result{
			Decision:          Allow,
			Reason:            "granted by " + match,
			MatchedPermission: match,
		}
	}

	return Result{Decision: Deny, Reason: "no grant covers " + required.String()}
}
