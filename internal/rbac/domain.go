package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Role is a position in the totally ordered role hierarchy.
type Role int

// Roles ordered from least to most privileged. RoleUnknown is the zero value
// and never grants anything.
const (
	RoleUnknown Role = iota
	RoleViewer
	RoleModerator
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = map[Role]string{
	RoleViewer:     "viewer",
	RoleModerator:  "moderator",
	RoleAdmin:      "admin",
	RoleSuperAdmin: "super_admin",
}

// AllRoles lists every assignable role ordered by hierarchy.
func AllRoles() []Role {
	return []Role{RoleViewer, RoleModerator, RoleAdmin, RoleSuperAdmin}
}

// String returns the storage name of the role.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether r is one of the assignable roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole maps a stored role name to a Role. Unrecognised names resolve to
// RoleUnknown.
func ParseRole(name string) Role {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	if name == "superadmin" {
		name = "super_admin"
	}
	for role, n := range roleNames {
		if n == name {
			return role
		}
	}
	return RoleUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role := ParseRole(string(text))
	if role == RoleUnknown {
		return fmt.Errorf("rbac: unknown role %q", string(text))
	}
	*r = role
	return nil
}

// Permission is an atomic capability checked before an operation proceeds.
type Permission string

// Closed permission enumeration.
const (
	PermDashboardView      Permission = "dashboard.view"
	PermOrdersView         Permission = "orders.view"
	PermOrdersEdit         Permission = "orders.edit"
	PermOrdersDelete       Permission = "orders.delete"
	PermCustomersView      Permission = "customers.view"
	PermCustomersEdit      Permission = "customers.edit"
	PermCustomersDelete    Permission = "customers.delete"
	PermInventoryView      Permission = "inventory.view"
	PermInventoryEdit      Permission = "inventory.edit"
	PermUsersView          Permission = "users.view"
	PermUsersManage        Permission = "users.manage"
	PermRolesManage        Permission = "roles.manage"
	PermAuditView          Permission = "audit.view"
	PermAuditExport        Permission = "audit.export"
	PermSettingsManage     Permission = "settings.manage"
	PermCommunicationsSend Permission = "communications.send"
	PermSEOManage          Permission = "seo.manage"
	PermSystemManage       Permission = "system.manage"
)

var allPermissions = []Permission{
	PermDashboardView,
	PermOrdersView,
	PermOrdersEdit,
	PermOrdersDelete,
	PermCustomersView,
	PermCustomersEdit,
	PermCustomersDelete,
	PermInventoryView,
	PermInventoryEdit,
	PermUsersView,
	PermUsersManage,
	PermRolesManage,
	PermAuditView,
	PermAuditExport,
	PermSettingsManage,
	PermCommunicationsSend,
	PermSEOManage,
	PermSystemManage,
}

// AllPermissions returns the full permission enumeration.
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// Known reports whether p belongs to the enumeration.
func (p Permission) Known() bool {
	for _, known := range allPermissions {
		if known == p {
			return true
		}
	}
	return false
}

// PermissionSet is an immutable set of permissions.
type PermissionSet struct {
	items map[Permission]struct{}
}

func newPermissionSet(perms ...Permission) PermissionSet {
	items := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		items[p] = struct{}{}
	}
	return PermissionSet{items: items}
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s.items[p]
	return ok
}

// Len returns the number of permissions in the set.
func (s PermissionSet) Len() int {
	return len(s.items)
}

// Slice returns the permissions sorted by name.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s.items))
	for p := range s.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the permission names sorted.
func (s PermissionSet) Strings() []string {
	perms := s.Slice()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// Principal describes the acting identity as seen by the evaluator.
type Principal interface {
	Role() Role
	Permissions() PermissionSet
}
