package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/sentinel/internal/platform/db"
	"github.com/odyssey-erp/sentinel/internal/rbac"
)

// RoleStore persists role records keyed by principal id.
type RoleStore interface {
	GetRole(ctx context.Context, userID string) (RoleRecord, error)
	// CreateRole inserts rec unless a record already exists, returning the
	// stored record either way.
	CreateRole(ctx context.Context, rec RoleRecord) (RoleRecord, error)
	UpdateRole(ctx context.Context, userID string, role rbac.Role) (RoleRecord, error)
}

// PrincipalSource looks up principals known to the identity provider.
type PrincipalSource interface {
	LookupPrincipal(ctx context.Context, userID string) (Principal, error)
}

// MemoryRoleStore keeps role records in process memory.
type MemoryRoleStore struct {
	mu      sync.RWMutex
	records map[string]RoleRecord
	now     func() time.Time
}

// NewMemoryRoleStore constructs an empty in-memory store.
func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{records: make(map[string]RoleRecord), now: time.Now}
}

// GetRole implements RoleStore.
func (s *MemoryRoleStore) GetRole(_ context.Context, userID string) (RoleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return RoleRecord{}, ErrNotFound
	}
	return rec, nil
}

// CreateRole implements RoleStore.
func (s *MemoryRoleStore) CreateRole(_ context.Context, rec RoleRecord) (RoleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.UserID]; ok {
		return existing, nil
	}
	now := s.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.records[rec.UserID] = rec
	return rec, nil
}

// UpdateRole implements RoleStore.
func (s *MemoryRoleStore) UpdateRole(_ context.Context, userID string, role rbac.Role) (RoleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return RoleRecord{}, ErrNotFound
	}
	rec.Role = role
	rec.UpdatedAt = s.now().UTC()
	s.records[userID] = rec
	return rec, nil
}

// PGRoleStore stores role records in the role_records table.
type PGRoleStore struct {
	pool *pgxpool.Pool
}

// NewPGRoleStore constructs the store.
func NewPGRoleStore(pool *pgxpool.Pool) *PGRoleStore {
	return &PGRoleStore{pool: pool}
}

// GetRole implements RoleStore.
func (s *PGRoleStore) GetRole(ctx context.Context, userID string) (RoleRecord, error) {
	return scanRoleRecord(s.pool.QueryRow(ctx,
		`SELECT user_id, role, created_at, updated_at FROM role_records WHERE user_id = $1`, userID))
}

// CreateRole implements RoleStore.
func (s *PGRoleStore) CreateRole(ctx context.Context, rec RoleRecord) (RoleRecord, error) {
	var out RoleRecord
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO role_records (user_id, role, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
			 ON CONFLICT (user_id) DO NOTHING`, rec.UserID, rec.Role.String()); err != nil {
			return err
		}
		stored, err := scanRoleRecord(tx.QueryRow(ctx,
			`SELECT user_id, role, created_at, updated_at FROM role_records WHERE user_id = $1`, rec.UserID))
		if err != nil {
			return err
		}
		out = stored
		return nil
	})
	if err != nil {
		return RoleRecord{}, fmt.Errorf("identity: create role record: %w", err)
	}
	return out, nil
}

// UpdateRole implements RoleStore.
func (s *PGRoleStore) UpdateRole(ctx context.Context, userID string, role rbac.Role) (RoleRecord, error) {
	rec, err := scanRoleRecord(s.pool.QueryRow(ctx,
		`UPDATE role_records SET role = $2, updated_at = NOW() WHERE user_id = $1
		 RETURNING user_id, role, created_at, updated_at`, userID, role.String()))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return RoleRecord{}, fmt.Errorf("identity: update role record: %w", err)
	}
	return rec, err
}

func scanRoleRecord(row pgx.Row) (RoleRecord, error) {
	var (
		rec  RoleRecord
		role string
	)
	if err := row.Scan(&rec.UserID, &role, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleRecord{}, ErrNotFound
		}
		return RoleRecord{}, err
	}
	rec.Role = rbac.ParseRole(role)
	return rec, nil
}

// PGPrincipalSource reads principals from the users table maintained by the
// identity provider.
type PGPrincipalSource struct {
	pool *pgxpool.Pool
}

// NewPGPrincipalSource constructs the source.
func NewPGPrincipalSource(pool *pgxpool.Pool) *PGPrincipalSource {
	return &PGPrincipalSource{pool: pool}
}

// LookupPrincipal implements PrincipalSource. Inactive users are reported as
// not found.
func (s *PGPrincipalSource) LookupPrincipal(ctx context.Context, userID string) (Principal, error) {
	var p Principal
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, email, email_verified FROM users WHERE id::text = $1 AND is_active`, userID).
		Scan(&p.ID, &p.Email, &p.Verified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, fmt.Errorf("identity: lookup principal: %w", err)
	}
	return p, nil
}

// StaticPrincipals is a fixed PrincipalSource used by tests and local runs.
type StaticPrincipals map[string]Principal

// LookupPrincipal implements PrincipalSource.
func (s StaticPrincipals) LookupPrincipal(_ context.Context, userID string) (Principal, error) {
	p, ok := s[userID]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}
