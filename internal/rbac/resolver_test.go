package rbac_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/accessctl/internal/rbac"
	"github.com/odyssey-erp/accessctl/internal/rbac/memstore"
)

type resolverFixture struct {
	store *memstore.Store
	roles map[string]rbac.Role
	view  rbac.Permission
	u1    rbac.User
	a1    rbac.UserRole
}

func newResolverFixture(t *testing.T) resolverFixture {
	t.Helper()
	store := memstore.New()
	roles := store.SeedRequiredRoles()
	view := store.SeedActivePermission("content:view:all")
	store.Grant(roles[rbac.RoleUser], view)
	u1 := store.SeedUser(rbac.User{Email: "u1@example.com"})
	a1 := store.Assign(u1, roles[rbac.RoleUser])
	return resolverFixture{store: store, roles: roles, view: view, u1: u1, a1: a1}
}

func TestResolverGrantedPermission(t *testing.T) {
	f := newResolverFixture(t)
	r := rbac.NewResolver(f.store, nil, nil)
	ctx := context.Background()

	require.True(t, r.HasPermission(ctx, f.u1.ID.String(), "content:view:all"))
	require.False(t, r.HasPermission(ctx, f.u1.ID.String(), "content:edit:all"))
	require.False(t, r.HasPermission(ctx, f.u1.ID.String(), "Content:View:All"))
}

func TestResolverAssignmentSoftDeleteFlipsDecision(t *testing.T) {
	f := newResolverFixture(t)
	r := rbac.NewResolver(f.store, nil, nil)
	ctx := context.Background()
	id := f.u1.ID.String()

	require.True(t, r.HasPermission(ctx, id, "content:view:all"))
	require.NoError(t, f.store.SoftDeleteUserRole(ctx, f.a1.ID, time.Now()))
	require.False(t, r.HasPermission(ctx, id, "content:view:all"))
	require.NoError(t, f.store.RestoreUserRole(ctx, f.a1.ID))
	require.True(t, r.HasPermission(ctx, id, "content:view:all"))
}

func TestResolverMalformedInputDenies(t *testing.T) {
	f := newResolverFixture(t)
	r := rbac.NewResolver(f.store, nil, nil)
	ctx := context.Background()

	for _, id := range []string{"", "   ", "not-a-uuid", uuid.Nil.String()} {
		require.False(t, r.HasPermission(ctx, id, "content:view:all"), id)
		allowed, err := r.Decide(ctx, id, "content:view:all")
		require.NoError(t, err)
		require.False(t, allowed)
	}
	require.False(t, r.HasPermission(ctx, f.u1.ID.String(), ""))
}

func TestResolverUserWithoutRolesDenied(t *testing.T) {
	f := newResolverFixture(t)
	r := rbac.NewResolver(f.store, nil, nil)
	stranger := f.store.SeedUser(rbac.User{Email: "stranger@example.com"})

	require.False(t, r.HasPermission(context.Background(), stranger.ID.String(), "content:view:all"))
	require.False(t, r.HasPermission(context.Background(), uuid.NewString(), "content:view:all"))
}

func TestResolverPermissionLifecycle(t *testing.T) {
	f := newResolverFixture(t)
	r := rbac.NewResolver(f.store, nil, nil)
	ctx := context.Background()
	id := f.u1.ID.String()

	f.store.SetPermissionLifecycle(f.view.ID, rbac.Deleted(time.Now()))
	require.False(t, r.HasPermission(ctx, id, "content:view:all"))

	f.store.SetPermissionLifecycle(f.view.ID, rbac.Active())
	require.True(t, r.HasPermission(ctx, id, "content:view:all"))

	f.store.SetPermissionActive(f.view.ID, false)
	require.False(t, r.HasPermission(ctx, id, "content:view:all"))
}

func TestResolverInactiveGrantDenied(t *testing.T) {
	store := memstore.New()
	roles := store.SeedRequiredRoles()
	perm := store.SeedActivePermission("report:view:all")
	store.SeedRolePermission(rbac.RolePermission{RoleID: roles[rbac.RoleAdmin].ID, PermissionID: perm.ID, IsActive: false})
	deleted := store.SeedActivePermission("report:export:all")
	store.SeedRolePermission(rbac.RolePermission{
		RoleID:       roles[rbac.RoleAdmin].ID,
		PermissionID: deleted.ID,
		IsActive:     true,
		Lifecycle:    rbac.Deleted(time.Now()),
	})
	admin := store.SeedUser(rbac.User{Email: "admin@example.com"})
	store.Assign(admin, roles[rbac.RoleAdmin])

	r := rbac.NewResolver(store, nil, nil)
	require.False(t, r.HasPermission(context.Background(), admin.ID.String(), "report:view:all"))
	require.False(t, r.HasPermission(context.Background(), admin.ID.String(), "report:export:all"))
}

func TestResolverDanglingAndDeletedRolesDeny(t *testing.T) {
	f := newResolverFixture(t)
	r := rbac.NewResolver(f.store, nil, nil)
	ctx := context.Background()

	ghost := f.store.SeedUser(rbac.User{Email: "ghost@example.com"})
	f.store.SeedUserRole(rbac.UserRole{UserID: ghost.ID, RoleID: uuid.New()})
	require.False(t, r.HasPermission(ctx, ghost.ID.String(), "content:view:all"))

	f.store.SoftDeleteRole(f.roles[rbac.RoleUser].ID, time.Now())
	require.False(t, r.HasPermission(ctx, f.u1.ID.String(), "content:view:all"))

	f.store.DeleteRole(f.roles[rbac.RoleUser].ID)
	require.False(t, r.HasPermission(ctx, f.u1.ID.String(), "content:view:all"))
}

func TestResolverToleratesDuplicateAssignments(t *testing.T) {
	f := newResolverFixture(t)
	f.store.Assign(f.u1, f.roles[rbac.RoleUser])
	r := rbac.NewResolver(f.store, nil, nil)
	ctx := context.Background()

	require.True(t, r.HasPermission(ctx, f.u1.ID.String(), "content:view:all"))
	require.NoError(t, f.store.SoftDeleteUserRole(ctx, f.a1.ID, time.Now()))
	require.True(t, r.HasPermission(ctx, f.u1.ID.String(), "content:view:all"))
}

func TestResolverEffectivePermissions(t *testing.T) {
	f := newResolverFixture(t)
	profile := f.store.SeedActivePermission("profile:view:own")
	f.store.Grant(f.roles[rbac.RoleUser], profile)
	users := f.store.SeedActivePermission("users:view:all")
	f.store.Grant(f.roles[rbac.RoleAdmin], users)
	f.store.Assign(f.u1, f.roles[rbac.RoleAdmin])

	r := rbac.NewResolver(f.store, nil, nil)
	perms, err := r.EffectivePermissions(context.Background(), f.u1.ID.String())
	require.NoError(t, err)
	require.Equal(t, []string{"content:view:all", "profile:view:own", "users:view:all"}, perms)

	_, err = r.EffectivePermissions(context.Background(), "nope")
	require.ErrorIs(t, err, rbac.ErrInvalidUserID)
}

type failingReader struct{ err error }

func (f failingReader) HeldRoles(context.Context, uuid.UUID) ([]rbac.RoleHolding, error) {
	return nil, f.err
}

func (f failingReader) ActiveGrants(context.Context, []uuid.UUID) ([]rbac.Grant, error) {
	return nil, f.err
}

type panickingReader struct{ failingReader }

func (panickingReader) HeldRoles(context.Context, uuid.UUID) ([]rbac.RoleHolding, error) {
	panic("boom")
}

func TestResolverStoreFailureFailsClosed(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := rbac.NewMetrics(reg)
	boom := errors.New("connection refused")
	r := rbac.NewResolver(failingReader{err: boom}, nil, metrics)
	id := uuid.NewString()

	require.False(t, r.HasPermission(context.Background(), id, "content:view:all"))
	_, err := r.Decide(context.Background(), id, "content:view:all")
	require.ErrorIs(t, err, boom)

	pr := rbac.NewResolver(panickingReader{}, nil, metrics)
	require.False(t, pr.HasPermission(context.Background(), id, "content:view:all"))

	count, err := testutil.GatherAndCount(reg, "accessctl_authz_decisions_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestResolverRecordsDecisionMetrics(t *testing.T) {
	f := newResolverFixture(t)
	reg := prometheus.NewRegistry()
	r := rbac.NewResolver(f.store, nil, rbac.NewMetrics(reg))
	ctx := context.Background()

	r.HasPermission(ctx, f.u1.ID.String(), "content:view:all")
	r.HasPermission(ctx, f.u1.ID.String(), "content:edit:all")
	r.HasPermission(ctx, "bad", "content:view:all")

	count, err := testutil.GatherAndCount(reg, "accessctl_authz_decisions_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
