package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

type contextKey struct{}

// WithContext stores c in ctx.
func WithContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the identity Context attached to ctx, or nil.
func FromContext(ctx context.Context) *Context {
	c, _ := ctx.Value(contextKey{}).(*Context)
	return c
}

// PrincipalFromRequest adapts the request identity for rbac.Middleware.
func PrincipalFromRequest(r *http.Request) rbac.Principal {
	return FromContext(r.Context()).Principal()
}

// Middleware attaches a per-session identity Context to each request. The
// session user id is set by the identity provider's sign-in flow.
type Middleware struct {
	Resolver   *Resolver
	Principals PrincipalSource
	Logger     *slog.Logger
}

// Handler resolves the session principal before calling next.
func (m Middleware) Handler(next http.Handler) http.Handler {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ictx := NewContext(m.Resolver, logger)
		sess := shared.SessionFromContext(r.Context())
		if sess != nil {
			if userID := strings.TrimSpace(sess.User()); userID != "" {
				m.signIn(r.Context(), ictx, sess, userID, logger)
			}
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ictx)))
	})
}

func (m Middleware) signIn(ctx context.Context, ictx *Context, sess *shared.Session, userID string, logger *slog.Logger) {
	if m.Principals == nil {
		return
	}
	p, err := m.Principals.LookupPrincipal(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Provider no longer knows the principal; drop the stale binding.
			sess.SetUser("")
			return
		}
		logger.Error("identity lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	_, _ = ictx.SignIn(ctx, p)
}
