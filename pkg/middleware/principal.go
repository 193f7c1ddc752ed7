package middleware

import (
	"net/http"

	"github.com/campushq/permit/pkg/contextkeys"
	"github.com/campushq/permit/pkg/evaluator"
)

// PrincipalResolver extracts the authenticated principal from a request.
// Token validation is the authentication layer's job; implementations here
// only translate its already-verified output into a Principal.
type PrincipalResolver interface {
	Resolve(r *http.Request) (*evaluator.Principal, error)
}

// HeaderResolver trusts an identity header set by the authenticating
// reverse proxy or API gateway in front of the service
type HeaderResolver struct {
	// Header is the request header carrying the verified user ID.
	// Defaults to X-Authenticated-User.
	Header string
}

// Resolve returns the principal from the configured header, or nil when the
// request is unauthenticated
func (h HeaderResolver) Resolve(r *http.Request) (*evaluator.Principal, error) {
	header := h.Header
	if header == "" {
		header = "X-Authenticated-User"
	}
	userID := r.Header.Get(header)
	if userID == "" {
		return nil, nil
	}
	return &evaluator.Principal{UserID: userID}, nil
}

// PrincipalMiddleware attaches the resolved principal to the request context
type PrincipalMiddleware struct {
	resolver PrincipalResolver
	optional bool // if true, unauthenticated requests pass through
}

// NewPrincipalMiddleware creates a principal extraction middleware
func NewPrincipalMiddleware(resolver PrincipalResolver, optional bool) *PrincipalMiddleware {
	return &PrincipalMiddleware{resolver: resolver, optional: optional}
}

// Handler wraps an HTTP handler with principal extraction
func (m *PrincipalMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.resolver.Resolve(r)
		if err != nil {
			unauthorizedResponse(w, "invalid credentials")
			return
		}
		if principal == nil {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			unauthorizedResponse(w, "authentication required")
			return
		}

		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal extracts the principal from the request, or nil when absent
func GetPrincipal(r *http.Request) *evaluator.Principal {
	v := r.Context().Value(contextkeys.PrincipalKey)
	if v == nil {
		return nil
	}
	principal, ok := v.(*evaluator.Principal)
	if !ok {
		return nil
	}
	return principal
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
