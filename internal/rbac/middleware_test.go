package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	allowed, denied int
}

func (c *countingObserver) ObserveDecision(allowed bool) {
	if allowed {
		c.allowed++
		return
	}
	c.denied++
}

func TestMiddlewareRequire(t *testing.T) {
	var principal Principal
	var denied []string
	obs := &countingObserver{}
	mw := Middleware{
		Principal: func(*http.Request) Principal { return principal },
		Denied:    func(_ *http.Request, req Requirement) { denied = append(denied, req.String()) },
		Observer:  obs,
	}
	handler := mw.Require(RequirePermission(PermAuditView))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/logs", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	principal = stubPrincipal{role: RoleModerator}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/logs", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	principal = stubPrincipal{role: RoleAdmin}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/logs", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	assert.Equal(t, []string{"permission:audit.view", "permission:audit.view"}, denied)
	assert.Equal(t, 1, obs.allowed)
	assert.Equal(t, 2, obs.denied)
}

func TestHandlerListsRoles(t *testing.T) {
	mw := Middleware{Principal: func(*http.Request) Principal { return stubPrincipal{role: RoleSuperAdmin} }}
	r := chi.NewRouter()
	NewHandler(nil, mw).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/roles", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Roles []roleView `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Roles, 4)
	assert.Equal(t, "viewer", body.Roles[0].Role)
	assert.Equal(t, 4, body.Roles[3].Level)
	assert.Len(t, body.Roles[3].Permissions, len(AllPermissions()))
}
