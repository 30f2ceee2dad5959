package users

import (
	"context"

	"github.com/odyssey-erp/sentinel/internal/identity"
	"github.com/odyssey-erp/sentinel/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	resolver *identity.Resolver
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, resolver *identity.Resolver) *Service {
	return &Service{repo: repo, resolver: resolver}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// ChangeRole assigns role to targetID on behalf of actor. The actor may only
// move a user between roles at or below its own level and never itself.
func (s *Service) ChangeRole(ctx context.Context, actor identity.Identity, targetID string, role rbac.Role) (before, after identity.RoleRecord, err error) {
	if actor.ID() == targetID {
		return before, after, ErrSelfRoleChange
	}
	registry := s.resolver.Registry()
	actorLevel := registry.LevelOf(actor.Role())
	current, err := s.resolver.RoleOf(ctx, targetID)
	if err != nil {
		return before, after, err
	}
	if registry.LevelOf(role) > actorLevel || registry.LevelOf(current.Role) > actorLevel {
		return before, after, ErrRoleAboveActor
	}
	return s.resolver.AssignRole(ctx, targetID, role)
}
