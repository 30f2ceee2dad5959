// Package identity resolves authenticated principals into role-bearing
// identities and tracks per-session sign-in state.
package identity

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/odyssey-erp/sentinel/internal/rbac"
)

// ErrNotFound indicates that no role record exists for a principal.
var ErrNotFound = errors.New("identity: role record not found")

// Principal is an authenticated subject as supplied by the identity provider.
type Principal struct {
	ID       string
	Email    string
	Verified bool
}

// RoleRecord is the persisted role assignment of one principal.
type RoleRecord struct {
	UserID    string
	Role      rbac.Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity is a resolved principal. Permissions are always derived from the
// role through the registry and cannot be assigned directly.
type Identity struct {
	id       string
	label    string
	role     rbac.Role
	verified bool
	perms    rbac.PermissionSet
}

// NewIdentity builds an identity for p holding role.
func NewIdentity(p Principal, role rbac.Role, registry *rbac.Registry) Identity {
	if registry == nil {
		registry = rbac.DefaultRegistry()
	}
	return Identity{
		id:       p.ID,
		label:    p.Email,
		role:     role,
		verified: p.Verified,
		perms:    registry.PermissionsFor(role),
	}
}

// ID returns the principal id.
func (i Identity) ID() string { return i.id }

// Label returns the display label, usually the email address.
func (i Identity) Label() string { return i.label }

// Verified reports whether the provider verified the principal.
func (i Identity) Verified() bool { return i.verified }

// Role implements rbac.Principal.
func (i Identity) Role() rbac.Role { return i.role }

// Permissions implements rbac.Principal.
func (i Identity) Permissions() rbac.PermissionSet { return i.perms }

type identityJSON struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Role        string   `json:"role"`
	Verified    bool     `json:"verified"`
	Permissions []string `json:"permissions"`
}

// MarshalJSON renders the identity with its derived permissions.
func (i Identity) MarshalJSON() ([]byte, error) {
	return json.Marshal(identityJSON{
		ID:          i.id,
		Label:       i.label,
		Role:        i.role.String(),
		Verified:    i.verified,
		Permissions: i.perms.Strings(),
	})
}
