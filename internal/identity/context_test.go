package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/sentinel/internal/rbac"
)

type transition struct {
	id  string
	ok  bool
	rol rbac.Role
}

type recorder struct {
	mu  sync.Mutex
	got []transition
}

func (r *recorder) listen(id Identity, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, transition{id: id.ID(), ok: ok, rol: id.Role()})
}

func (r *recorder) events() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.got...)
}

func TestSignInCreatesViewerRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoleStore()
	ictx := NewContext(NewResolver(store, nil, nil), nil)

	id, err := ictx.SignIn(ctx, Principal{ID: "u1", Email: "u1@example.com", Verified: true})
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleViewer, id.Role())
	assert.True(t, id.Permissions().Has(rbac.PermDashboardView))
	assert.False(t, id.Permissions().Has(rbac.PermOrdersEdit))

	rec, err := store.GetRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleViewer, rec.Role)
}

func TestSignInUsesExistingRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoleStore()
	_, err := store.CreateRole(ctx, RoleRecord{UserID: "u2", Role: rbac.RoleModerator})
	require.NoError(t, err)

	ictx := NewContext(NewResolver(store, nil, nil), nil)
	_, err = ictx.SignIn(ctx, Principal{ID: "u2", Email: "mod@example.com"})
	require.NoError(t, err)

	assert.True(t, ictx.Allows(rbac.RequireAny(rbac.PermDashboardView, rbac.PermOrdersEdit)))
	assert.False(t, ictx.Allows(rbac.RequireAll(rbac.PermUsersManage)))
}

func TestSubscribeDeliversEachTransitionOnce(t *testing.T) {
	ctx := context.Background()
	ictx := NewContext(NewResolver(NewMemoryRoleStore(), nil, nil), nil)
	rec := &recorder{}

	unsubscribe := ictx.Subscribe(rec.listen)
	_, err := ictx.SignIn(ctx, Principal{ID: "u1"})
	require.NoError(t, err)
	ictx.SignOut()
	ictx.SignOut()

	assert.Equal(t, []transition{
		{id: "", ok: false},
		{id: "u1", ok: true, rol: rbac.RoleViewer},
		{id: "", ok: false},
	}, rec.events())

	unsubscribe()
	unsubscribe()
	_, err = ictx.SignIn(ctx, Principal{ID: "u1"})
	require.NoError(t, err)
	assert.Len(t, rec.events(), 3)
}

func TestSubscribeAfterSignInGetsCurrentIdentity(t *testing.T) {
	ictx := NewContext(NewResolver(NewMemoryRoleStore(), nil, nil), nil)
	_, err := ictx.SignIn(context.Background(), Principal{ID: "u9"})
	require.NoError(t, err)

	rec := &recorder{}
	defer ictx.Subscribe(rec.listen)()
	assert.Equal(t, []transition{{id: "u9", ok: true, rol: rbac.RoleViewer}}, rec.events())
}

func TestListenerMayUnsubscribeItself(t *testing.T) {
	ictx := NewContext(NewResolver(NewMemoryRoleStore(), nil, nil), nil)
	calls := 0
	var unsubscribe func()
	unsubscribe = ictx.Subscribe(func(Identity, bool) {
		calls++
		if unsubscribe != nil {
			unsubscribe()
		}
	})
	_, _ = ictx.SignIn(context.Background(), Principal{ID: "u1"})
	_, _ = ictx.SignIn(context.Background(), Principal{ID: "u1"})
	assert.Equal(t, 2, calls)
}

func TestListenerMaySubscribeAndSignOut(t *testing.T) {
	ictx := NewContext(NewResolver(NewMemoryRoleStore(), nil, nil), nil)
	nested := &recorder{}
	done := make(chan struct{})

	go func() {
		defer close(done)
		subscribed := false
		ictx.Subscribe(func(id Identity, ok bool) {
			if ok && !subscribed {
				subscribed = true
				ictx.Subscribe(nested.listen)
				ictx.SignOut()
			}
		})
		_, _ = ictx.SignIn(context.Background(), Principal{ID: "u1"})
		_, _ = ictx.SignIn(context.Background(), Principal{ID: "u2"})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("re-entrant listener blocked the context")
	}
	assert.Equal(t, []transition{
		{id: "u1", ok: true, rol: rbac.RoleViewer},
		{ok: false},
		{id: "u2", ok: true, rol: rbac.RoleViewer},
	}, nested.events())
	cur, ok := ictx.Current()
	require.True(t, ok)
	assert.Equal(t, "u2", cur.ID())
}

type failingStore struct{ MemoryRoleStore }

func (*failingStore) GetRole(context.Context, string) (RoleRecord, error) {
	return RoleRecord{}, errors.New("store offline")
}

func TestSignInFailsClosedOnStoreError(t *testing.T) {
	ictx := NewContext(NewResolver(&failingStore{}, nil, nil), nil)
	id, err := ictx.SignIn(context.Background(), Principal{ID: "u1"})
	require.Error(t, err)
	assert.Equal(t, rbac.RoleUnknown, id.Role())
	assert.Equal(t, 0, id.Permissions().Len())
	assert.False(t, ictx.Allows(rbac.RequireRole(rbac.RoleViewer)))
}

func TestNilContextDenies(t *testing.T) {
	var ictx *Context
	_, ok := ictx.Current()
	assert.False(t, ok)
	assert.Nil(t, ictx.Principal())
	assert.False(t, ictx.Allows(rbac.RequirePermission(rbac.PermDashboardView)))
}

func TestAssignRole(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRoleStore()
	resolver := NewResolver(store, nil, nil)
	_, err := resolver.Resolve(ctx, Principal{ID: "u1"})
	require.NoError(t, err)

	before, after, err := resolver.AssignRole(ctx, "u1", rbac.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleViewer, before.Role)
	assert.Equal(t, rbac.RoleAdmin, after.Role)

	_, _, err = resolver.AssignRole(ctx, "missing", rbac.RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = resolver.AssignRole(ctx, "u1", rbac.RoleUnknown)
	assert.Error(t, err)
}
