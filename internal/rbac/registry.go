package rbac

import (
	"fmt"
	"sync"
)

// RoleDefinition is one row of the role table.
type RoleDefinition struct {
	Role        Role
	Level       int
	Permissions []Permission
}

// Registry maps roles to their hierarchy level and permission set. It is
// built once and never mutated, so concurrent reads need no locking.
type Registry struct {
	levels map[Role]int
	perms  map[Role]PermissionSet
	defs   []RoleDefinition
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the process-wide role table.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		reg, err := NewRegistry(defaultDefinitions())
		if err != nil {
			panic(err)
		}
		defaultRegistry = reg
	})
	return defaultRegistry
}

func defaultDefinitions() []RoleDefinition {
	viewer := []Permission{
		PermDashboardView,
		PermOrdersView,
		PermCustomersView,
		PermInventoryView,
	}
	moderator := append(append([]Permission{}, viewer...),
		PermOrdersEdit,
		PermCustomersEdit,
		PermInventoryEdit,
		PermCommunicationsSend,
		PermSEOManage,
	)
	admin := append(append([]Permission{}, moderator...),
		PermOrdersDelete,
		PermCustomersDelete,
		PermUsersView,
		PermUsersManage,
		PermAuditView,
		PermAuditExport,
		PermSettingsManage,
	)
	return []RoleDefinition{
		{Role: RoleViewer, Level: 1, Permissions: viewer},
		{Role: RoleModerator, Level: 2, Permissions: moderator},
		{Role: RoleAdmin, Level: 3, Permissions: admin},
		{Role: RoleSuperAdmin, Level: 4, Permissions: AllPermissions()},
	}
}

// NewRegistry validates and freezes a role table. Levels must be strictly
// increasing in hierarchy order, every permission must be known, the top
// role must hold the full enumeration and every other role a strict subset.
func NewRegistry(defs []RoleDefinition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("rbac: empty role table")
	}
	reg := &Registry{
		levels: make(map[Role]int, len(defs)),
		perms:  make(map[Role]PermissionSet, len(defs)),
		defs:   make([]RoleDefinition, 0, len(defs)),
	}
	prevLevel := 0
	for i, def := range defs {
		if !def.Role.Valid() {
			return nil, fmt.Errorf("rbac: invalid role at position %d", i)
		}
		if _, dup := reg.levels[def.Role]; dup {
			return nil, fmt.Errorf("rbac: role %s defined twice", def.Role)
		}
		if def.Level <= prevLevel {
			return nil, fmt.Errorf("rbac: level of %s must be greater than %d", def.Role, prevLevel)
		}
		for _, p := range def.Permissions {
			if !p.Known() {
				return nil, fmt.Errorf("rbac: role %s grants unknown permission %q", def.Role, p)
			}
		}
		prevLevel = def.Level
		set := newPermissionSet(def.Permissions...)
		reg.levels[def.Role] = def.Level
		reg.perms[def.Role] = set
		reg.defs = append(reg.defs, RoleDefinition{Role: def.Role, Level: def.Level, Permissions: set.Slice()})
	}
	top := defs[len(defs)-1].Role
	all := len(allPermissions)
	if reg.perms[top].Len() != all {
		return nil, fmt.Errorf("rbac: top role %s must hold every permission", top)
	}
	for _, def := range defs[:len(defs)-1] {
		if reg.perms[def.Role].Len() >= all {
			return nil, fmt.Errorf("rbac: role %s must hold a strict subset of permissions", def.Role)
		}
	}
	return reg, nil
}

// PermissionsFor returns the permissions granted by role. Unknown roles get
// an empty set.
func (r *Registry) PermissionsFor(role Role) PermissionSet {
	if r == nil {
		return PermissionSet{}
	}
	return r.perms[role]
}

// LevelOf returns the hierarchy level of role. Unknown roles sit at 0, below
// every defined role.
func (r *Registry) LevelOf(role Role) int {
	if r == nil {
		return 0
	}
	return r.levels[role]
}

// Definitions returns the role table ordered by level.
func (r *Registry) Definitions() []RoleDefinition {
	if r == nil {
		return nil
	}
	out := make([]RoleDefinition, len(r.defs))
	for i, def := range r.defs {
		perms := make([]Permission, len(def.Permissions))
		copy(perms, def.Permissions)
		out[i] = RoleDefinition{Role: def.Role, Level: def.Level, Permissions: perms}
	}
	return out
}

// Lowest returns the least privileged defined role, used as the default for
// newly seen principals.
func (r *Registry) Lowest() Role {
	if r == nil || len(r.defs) == 0 {
		return RoleUnknown
	}
	return r.defs[0].Role
}
