package users

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/identity"
	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Handler manages identity and user management endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	csrf     *shared.CSRFManager
	sessions *shared.SessionManager
	rbac     rbac.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, csrf *shared.CSRFManager, sessions *shared.SessionManager, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, csrf: csrf, sessions: sessions, rbac: rbac, validate: validator.New()}
}

// MountRoutes registers identity and user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.RequireRole(rbac.RoleViewer)))
		r.Get("/me", h.me)
		r.Post("/me/signout", h.signOut)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.RequireAny(rbac.PermUsersView, rbac.PermUsersManage)))
		r.Get("/users", h.listUsers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.RequirePermission(rbac.PermRolesManage)))
		r.Put("/users/{id}/role", h.changeRole)
	})
}

type meResponse struct {
	Identity  identity.Identity `json:"identity"`
	CSRFToken string            `json:"csrfToken,omitempty"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context()).Current()
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	resp := meResponse{Identity: id}
	if sess := shared.SessionFromContext(r.Context()); sess != nil && h.csrf != nil {
		token, err := h.csrf.EnsureToken(r.Context(), sess)
		if err != nil {
			h.logger.Warn("csrf token", slog.Any("error", err))
		}
		resp.CSRFToken = token
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	audit.RecorderFromContext(ctx).LogEvent(ctx, audit.EventLogout, nil, audit.SeverityLow)
	identity.FromContext(ctx).SignOut()
	if sess := shared.SessionFromContext(ctx); sess != nil {
		sess.SetUser("")
		if h.sessions != nil {
			h.sessions.Destroy(sess)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := identity.FromContext(ctx).Current()
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req roleChangeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: role must be one of viewer, moderator, admin, super_admin", httpx.ErrValidation))
		return
	}
	targetID := chi.URLParam(r, "id")
	rec := audit.RecorderFromContext(ctx)

	before, after, err := h.service.ChangeRole(ctx, actor, targetID, rbac.ParseRole(req.Role))
	switch {
	case errors.Is(err, ErrSelfRoleChange), errors.Is(err, ErrRoleAboveActor):
		rec.LogSecurityEvent(ctx, audit.EventPermissionDenied, audit.Details{
			"operation":     "role_change",
			"targetUserId":  targetID,
			"requestedRole": req.Role,
			"reason":        err.Error(),
		})
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrForbidden, err))
		return
	case errors.Is(err, identity.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: no role record for user %s", httpx.ErrNotFound, targetID))
		return
	case err != nil:
		h.logger.Error("change role failed", slog.String("user_id", targetID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	rec.LogDataChange(ctx, "USER", targetID,
		audit.Snapshot{"role": before.Role.String()},
		audit.Snapshot{"role": after.Role.String()},
		"ROLE_CHANGED")
	httpx.JSON(w, http.StatusOK, map[string]any{
		"userId":    after.UserID,
		"role":      after.Role.String(),
		"updatedAt": after.UpdatedAt,
	})
}
