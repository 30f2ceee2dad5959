package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
)

// PrincipalFunc extracts the acting principal from a request. A nil result
// means no identity is attached.
type PrincipalFunc func(r *http.Request) Principal

// DeniedFunc is invoked for every denied request before the 403 is written.
type DeniedFunc func(r *http.Request, req Requirement)

// DecisionObserver receives access decisions for metrics.
type DecisionObserver interface {
	ObserveDecision(allowed bool)
}

// Middleware wires requirement checks for HTTP handlers.
type Middleware struct {
	Evaluator *Evaluator
	Principal PrincipalFunc
	Denied    DeniedFunc
	Observer  DecisionObserver
	Logger    *slog.Logger
}

// Require admits the request only when the principal satisfies req.
func (m Middleware) Require(req Requirement) func(http.Handler) http.Handler {
	evaluator := m.Evaluator
	if evaluator == nil {
		evaluator = NewEvaluator(nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal Principal
			if m.Principal != nil {
				principal = m.Principal(r)
			}
			allowed := evaluator.Evaluate(principal, req)
			if m.Observer != nil {
				m.Observer.ObserveDecision(allowed)
			}
			if allowed {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac denied", slog.String("requirement", req.String()), slog.String("path", r.URL.Path))
			}
			if m.Denied != nil {
				m.Denied(r, req)
			}
			if principal == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
				return
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing "+req.String())
		})
	}
}

// RequireAny is shorthand for Require(RequireAny(perms...)).
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return m.Require(RequireAny(perms...))
}

// RequireAll is shorthand for Require(RequireAll(perms...)).
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return m.Require(RequireAll(perms...))
}
