package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/sentinel/internal/audit"
	audithttp "github.com/odyssey-erp/sentinel/internal/audit/http"
	"github.com/odyssey-erp/sentinel/internal/identity"
	"github.com/odyssey-erp/sentinel/internal/observability"
	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/internal/shared"
	"github.com/odyssey-erp/sentinel/internal/users"
)

const cookieName = "sentinel_session"

type noUsers struct{}

func (noUsers) ListUsers(context.Context) ([]users.User, error) { return nil, nil }

type stack struct {
	handler http.Handler
	redis   *miniredis.Miniredis
	events  *audit.MemoryStore
	roles   *identity.MemoryRoleStore
	metrics *observability.Metrics
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, AppRateLimit: 1000, AuditSource: "sentinel-test", AuditIPLookupTimeout: time.Second}

	roles := identity.NewMemoryRoleStore()
	for id, role := range map[string]rbac.Role{"admin-1": rbac.RoleAdmin, "viewer-1": rbac.RoleViewer, "root-1": rbac.RoleSuperAdmin} {
		_, err := roles.CreateRole(ctx, identity.RoleRecord{UserID: id, Role: role})
		require.NoError(t, err)
	}
	principals := identity.StaticPrincipals{
		"admin-1":  {ID: "admin-1", Email: "admin@example.com", Verified: true},
		"viewer-1": {ID: "viewer-1", Email: "viewer@example.com", Verified: true},
		"root-1":   {ID: "root-1", Email: "root@example.com", Verified: true},
	}
	registry := rbac.DefaultRegistry()
	resolver := identity.NewResolver(roles, registry, logger)

	metrics := observability.NewMetrics()
	events := audit.NewMemoryStore()
	auditLogger, err := NewAuditLogger(cfg, logger, AuditDeps{Store: events, Metrics: metrics})
	require.NoError(t, err)

	sessions := shared.NewSessionManager(client, cookieName, "session-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	rbacMw := NewRBACMiddleware(registry, logger, metrics)

	handler := NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessions,
		CSRFManager:    csrf,
		Identity:       identity.Middleware{Resolver: resolver, Principals: principals, Logger: logger},
		AuditLogger:    auditLogger,
		RBACMiddleware: rbacMw,
		AuditHandler:   audithttp.NewHandler(logger, audit.NewService(events, logger), rbacMw),
		UsersHandler:   users.NewHandler(logger, users.NewService(noUsers{}, resolver), csrf, sessions, rbacMw),
		RolesHandler:   rbac.NewHandler(registry, rbacMw),
		Metrics:        metrics,
		Readiness: map[string]Pinger{
			"redis": PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() }),
		},
	})
	return &stack{handler: handler, redis: mr, events: events, roles: roles, metrics: metrics}
}

// signIn stores a session bound to userID the way the identity provider
// would and returns its cookie.
func (s *stack) signIn(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	id := "sid-" + userID
	require.NoError(t, s.redis.Set("session:"+id, `{"values":{},"user_id":"`+userID+`"}`))
	return &http.Cookie{Name: cookieName, Value: id}
}

func (s *stack) do(method, path, body string, cookie *http.Cookie, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *stack) eventsOf(t *testing.T, eventType audit.EventType) []audit.Event {
	t.Helper()
	events, err := s.events.Find(context.Background(), audit.Query{EventType: eventType})
	require.NoError(t, err)
	return events
}

func TestHealthAndReadiness(t *testing.T) {
	s := newStack(t)
	rr := s.do(http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = s.do(http.MethodGet, "/readyz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"redis":"up"}`, rr.Body.String())
}

func TestReadinessReportsDownDependency(t *testing.T) {
	handler := readinessHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return errors.New("refused") }),
		"redis":    PingFunc(func(context.Context) error { return nil }),
	})
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"postgres":"down","redis":"up"}`, rr.Body.String())
}

func TestAnonymousDeniedIsAudited(t *testing.T) {
	s := newStack(t)
	rr := s.do(http.MethodGet, "/audit/logs", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	denied := s.eventsOf(t, audit.EventPermissionDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, audit.AnonymousID, denied[0].ActorID)
	assert.Equal(t, audit.SeverityCritical, denied[0].Severity)
	assert.Equal(t, "/audit/logs", denied[0].Details["path"])
	assert.NotEmpty(t, denied[0].SessionID)
}

func TestViewerCannotReadAuditTrail(t *testing.T) {
	s := newStack(t)
	rr := s.do(http.MethodGet, "/audit/logs", "", s.signIn(t, "viewer-1"), nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	denied := s.eventsOf(t, audit.EventPermissionDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, "viewer-1", denied[0].ActorID)
	assert.Equal(t, "viewer", denied[0].ActorRole)
}

func TestAdminReadsAuditTrailAndRoleMatrix(t *testing.T) {
	s := newStack(t)
	cookie := s.signIn(t, "admin-1")

	rr := s.do(http.MethodGet, "/me", "", cookie, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me struct {
		Identity struct {
			ID          string   `json:"id"`
			Role        string   `json:"role"`
			Permissions []string `json:"permissions"`
		} `json:"identity"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	assert.Equal(t, "admin-1", me.Identity.ID)
	assert.Equal(t, "admin", me.Identity.Role)
	assert.Contains(t, me.Identity.Permissions, "audit.view")

	rr = s.do(http.MethodGet, "/rbac/roles", "", cookie, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"super_admin"`)

	rr = s.do(http.MethodGet, "/audit/logs?limit=5", "", cookie, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodGet, "/audit/stats?window=fortnight", "", cookie, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRoleChangeRequiresCSRFAndEscalates(t *testing.T) {
	s := newStack(t)
	cookie := s.signIn(t, "root-1")

	rr := s.do(http.MethodPut, "/users/viewer-1/role", `{"role":"moderator"}`, cookie, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Len(t, s.eventsOf(t, audit.EventSuspiciousActivity), 1)

	rr = s.do(http.MethodGet, "/me", "", cookie, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	require.NotEmpty(t, me.CSRFToken)

	rr = s.do(http.MethodPut, "/users/viewer-1/role", `{"role":"moderator"}`, cookie,
		http.Header{shared.CSRFHeader: []string{me.CSRFToken}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rec, err := s.roles.GetRole(context.Background(), "viewer-1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleModerator, rec.Role)

	changed := s.eventsOf(t, audit.EventType("USER_ROLE_CHANGED"))
	require.Len(t, changed, 1)
	assert.Equal(t, audit.SeverityCritical, changed[0].Severity)
	escalations := s.eventsOf(t, audit.EventSecurityEscalation)
	require.Len(t, escalations, 1)
	assert.Equal(t, "USER_ROLE_CHANGED", escalations[0].Details["originalEventType"])
}

func TestMetricsEndpointExposesDecisions(t *testing.T) {
	s := newStack(t)
	s.do(http.MethodGet, "/audit/logs", "", nil, nil)

	rr := s.do(http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `sentinel_access_decisions_total{outcome="deny"} 1`)
	assert.Contains(t, body, `sentinel_audit_writes_total{category="security",result="ok",severity="CRITICAL"} 1`)
}

func TestNewAuditLoggerRejectsMissingRulesFile(t *testing.T) {
	cfg := &Config{AuditSeverityRules: "/nonexistent/rules.yaml", AuditIPLookupTimeout: time.Second}
	_, err := NewAuditLogger(cfg, nil, AuditDeps{Store: audit.NewMemoryStore()})
	require.Error(t, err)

	_, err = NewAuditLogger(nil, nil, AuditDeps{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, audit.ErrValidation))
}
