package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/sentinel/internal/rbac"
)

// Resolver turns principals into identities using the role store.
type Resolver struct {
	store    RoleStore
	registry *rbac.Registry
	logger   *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(store RoleStore, registry *rbac.Registry, logger *slog.Logger) *Resolver {
	if registry == nil {
		registry = rbac.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, registry: registry, logger: logger}
}

// Registry exposes the role table the resolver derives permissions from.
func (r *Resolver) Registry() *rbac.Registry {
	return r.registry
}

// Resolve loads the role record of p, creating one with the lowest role when
// the principal has never been seen.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (Identity, error) {
	if p.ID == "" {
		return Identity{}, errors.New("identity: principal id required")
	}
	rec, err := r.store.GetRole(ctx, p.ID)
	if errors.Is(err, ErrNotFound) {
		rec, err = r.store.CreateRole(ctx, RoleRecord{UserID: p.ID, Role: r.registry.Lowest()})
		if err == nil {
			r.logger.Info("role record created", slog.String("user_id", p.ID), slog.String("role", rec.Role.String()))
		}
	}
	if err != nil {
		return Identity{}, fmt.Errorf("identity: resolve %s: %w", p.ID, err)
	}
	return NewIdentity(p, rec.Role, r.registry), nil
}

// RoleOf returns the stored role record of userID.
func (r *Resolver) RoleOf(ctx context.Context, userID string) (RoleRecord, error) {
	return r.store.GetRole(ctx, userID)
}

// AssignRole changes the stored role of userID and returns the previous and
// new records.
func (r *Resolver) AssignRole(ctx context.Context, userID string, role rbac.Role) (before, after RoleRecord, err error) {
	if !role.Valid() {
		return RoleRecord{}, RoleRecord{}, fmt.Errorf("identity: invalid role %d", role)
	}
	before, err = r.store.GetRole(ctx, userID)
	if err != nil {
		return RoleRecord{}, RoleRecord{}, err
	}
	after, err = r.store.UpdateRole(ctx, userID, role)
	if err != nil {
		return RoleRecord{}, RoleRecord{}, err
	}
	return before, after, nil
}
