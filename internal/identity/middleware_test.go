package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

func TestMiddlewareResolvesSessionUser(t *testing.T) {
	mw := Middleware{
		Resolver:   NewResolver(NewMemoryRoleStore(), nil, nil),
		Principals: StaticPrincipals{"7": {ID: "7", Email: "ops@example.com", Verified: true}},
	}
	var got rbac.Principal
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = PrincipalFromRequest(r)
	}))

	sess := &shared.Session{ID: "s1"}
	sess.SetUser("7")
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, rbac.RoleViewer, got.Role())
	assert.Equal(t, "ops@example.com", got.(Identity).Label())
}

func TestMiddlewareDropsUnknownUser(t *testing.T) {
	mw := Middleware{
		Resolver:   NewResolver(NewMemoryRoleStore(), nil, nil),
		Principals: StaticPrincipals{},
	}
	var got rbac.Principal
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = PrincipalFromRequest(r)
	}))

	sess := &shared.Session{ID: "s1"}
	sess.SetUser("ghost")
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Nil(t, got)
	assert.Empty(t, sess.User())
}
