package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/sentinel/internal/platform/httpx"
)

// Handler exposes the role matrix.
type Handler struct {
	registry *Registry
	rbac     Middleware
}

// NewHandler builds a Handler.
func NewHandler(registry *Registry, rbac Middleware) *Handler {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Handler{registry: registry, rbac: rbac}
}

// MountRoutes registers role matrix routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(RequireAny(PermRolesManage, PermUsersView)))
		r.Get("/roles", h.listRoles)
	})
}

type roleView struct {
	Role        string   `json:"role"`
	Level       int      `json:"level"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	defs := h.registry.Definitions()
	out := make([]roleView, 0, len(defs))
	for _, def := range defs {
		perms := make([]string, len(def.Permissions))
		for i, p := range def.Permissions {
			perms[i] = string(p)
		}
		out = append(out, roleView{Role: def.Role.String(), Level: def.Level, Permissions: perms})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}
