package rbac

import (
	"strings"
)

type requirementKind int

const (
	kindNone requirementKind = iota
	kindPermission
	kindAnyOf
	kindAllOf
	kindMinimumRole
)

// Requirement is what an operation demands of the acting identity. Build it
// with RequirePermission, RequireAny, RequireAll or RequireRole; the zero
// value denies everything.
type Requirement struct {
	kind        requirementKind
	permissions []Permission
	role        Role
}

// RequirePermission demands a single permission.
func RequirePermission(p Permission) Requirement {
	return Requirement{kind: kindPermission, permissions: []Permission{p}}
}

// RequireAny demands at least one of perms.
func RequireAny(perms ...Permission) Requirement {
	return Requirement{kind: kindAnyOf, permissions: append([]Permission(nil), perms...)}
}

// RequireAll demands every one of perms.
func RequireAll(perms ...Permission) Requirement {
	return Requirement{kind: kindAllOf, permissions: append([]Permission(nil), perms...)}
}

// RequireRole demands a role at or above role in the hierarchy.
func RequireRole(role Role) Requirement {
	return Requirement{kind: kindMinimumRole, role: role}
}

// String renders the requirement for logs and audit details.
func (r Requirement) String() string {
	names := make([]string, len(r.permissions))
	for i, p := range r.permissions {
		names[i] = string(p)
	}
	switch r.kind {
	case kindPermission:
		return "permission:" + strings.Join(names, ",")
	case kindAnyOf:
		return "any:" + strings.Join(names, ",")
	case kindAllOf:
		return "all:" + strings.Join(names, ",")
	case kindMinimumRole:
		return "role>=" + r.role.String()
	default:
		return "none"
	}
}

// Evaluator answers allow/deny questions against a registry.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator returns an evaluator bound to registry, falling back to the
// default table when nil.
func NewEvaluator(registry *Registry) *Evaluator {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Evaluator{registry: registry}
}

// Evaluate reports whether p satisfies req. A nil principal is denied for
// every requirement. An empty permission list is denied as well.
func (e *Evaluator) Evaluate(p Principal, req Requirement) bool {
	if p == nil {
		return false
	}
	granted := p.Permissions()
	switch req.kind {
	case kindPermission:
		return len(req.permissions) == 1 && granted.Has(req.permissions[0])
	case kindAnyOf:
		for _, perm := range req.permissions {
			if granted.Has(perm) {
				return true
			}
		}
		return false
	case kindAllOf:
		if len(req.permissions) == 0 {
			return false
		}
		for _, perm := range req.permissions {
			if !granted.Has(perm) {
				return false
			}
		}
		return true
	case kindMinimumRole:
		if !req.role.Valid() {
			return false
		}
		level := e.registry.LevelOf(p.Role())
		return level > 0 && level >= e.registry.LevelOf(req.role)
	default:
		return false
	}
}

// Evaluate checks p against req using the default registry.
func Evaluate(p Principal, req Requirement) bool {
	return NewEvaluator(nil).Evaluate(p, req)
}
