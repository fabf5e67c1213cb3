package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/accessctl/internal/rbac"
	"github.com/odyssey-erp/accessctl/internal/rbac/memstore"
	"github.com/odyssey-erp/accessctl/internal/shared"
)

type fixture struct {
	store  *memstore.Store
	router http.Handler
	admin  rbac.User
	member rbac.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	roles := store.SeedRequiredRoles()
	view := store.SeedActivePermission(PermissionViewAll)
	repair := store.SeedActivePermission(PermissionRepairAll)
	content := store.SeedActivePermission("content:view:all")
	store.Grant(roles[rbac.RoleSuperAdmin], view)
	store.Grant(roles[rbac.RoleSuperAdmin], repair)
	store.Grant(roles[rbac.RoleUser], content)

	admin := store.SeedUser(rbac.User{Email: "root@example.com"})
	member := store.SeedUser(rbac.User{Email: "member@example.com"})
	store.Assign(admin, roles[rbac.RoleSuperAdmin])
	store.Assign(member, roles[rbac.RoleUser])

	resolver := rbac.NewResolver(store, nil, nil)
	repairer := rbac.NewRepairer(store, nil, nil, rbac.RepairConfig{})
	handler := NewHandler(nil, resolver, resolver, repairer, rbac.Middleware{Authorizer: resolver})

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithUserID(req.Context(), req.Header.Get("X-User-ID"))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	handler.MountRoutes(r)
	return fixture{store: store, router: r, admin: admin, member: member}
}

func (f fixture) do(t *testing.T, method, target, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if caller != "" {
		req.Header.Set("X-User-ID", caller)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestCheckEndpoint(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/v1/authz/check?user_id="+f.member.ID.String()+"&permission=content:view:all", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"allowed":true}`, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/v1/authz/check?user_id="+f.member.ID.String()+"&permission=rbac:repair:all", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"allowed":false}`, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/v1/authz/check?user_id=not-a-uuid&permission=content:view:all", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"allowed":false}`, rr.Body.String())

	rr = f.do(t, http.MethodGet, "/v1/authz/check?permission=content:view:all", "", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListPermissionsRequiresViewPermission(t *testing.T) {
	f := newFixture(t)
	target := "/v1/authz/users/" + f.member.ID.String() + "/permissions"

	rr := f.do(t, http.MethodGet, target, "", "")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodGet, target, f.member.ID.String(), "")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodGet, target, f.admin.ID.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body permissionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, f.member.ID.String(), body.UserID)
	require.Equal(t, []string{"content:view:all"}, body.Permissions)

	rr = f.do(t, http.MethodGet, "/v1/authz/users/bogus/permissions", f.admin.ID.String(), "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRepairEndpoint(t *testing.T) {
	f := newFixture(t)
	orphan := f.store.SeedUser(rbac.User{Email: "orphan@example.com"})

	rr := f.do(t, http.MethodPost, "/v1/rbac/repair", f.member.ID.String(), `{"dry_run":true}`)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/rbac/repair", f.admin.ID.String(), `{"dry_run":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var report rbac.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.True(t, report.DryRun)
	step, ok := report.Step(rbac.StepBackfillDefaultRole)
	require.True(t, ok)
	require.Equal(t, 1, step.Count(rbac.OutcomeChanged))
	require.Equal(t, orphan.Email, step.Changes[0].Target)

	rr = f.do(t, http.MethodPost, "/v1/rbac/repair", f.admin.ID.String(), `{"admin_emails":["not-an-email"]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/rbac/repair", f.admin.ID.String(), `{"unknown":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

type busyRepairer struct{}

func (busyRepairer) Repair(context.Context, rbac.RepairOptions) (rbac.Report, error) {
	return rbac.Report{}, rbac.ErrRepairInProgress
}

func TestRepairInProgressIsConflict(t *testing.T) {
	f := newFixture(t)
	resolver := rbac.NewResolver(f.store, nil, nil)
	handler := NewHandler(nil, resolver, resolver, busyRepairer{}, rbac.Middleware{Authorizer: resolver})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithUserID(req.Context(), f.admin.ID.String())))
		})
	})
	handler.MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/rbac/repair", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestCheckEndpointCallerPermission(t *testing.T) {
	f := newFixture(t)
	resolver := rbac.NewResolver(f.store, nil, nil)
	handler := NewHandler(nil, resolver, resolver, nil, rbac.Middleware{Authorizer: resolver}).
		RequireCheckPermission(PermissionViewAll)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithUserID(req.Context(), req.Header.Get("X-User-ID"))))
		})
	})
	handler.MountRoutes(r)

	call := func(caller string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/authz/check?user_id="+f.member.ID.String()+"&permission=content:view:all", nil)
		if caller != "" {
			req.Header.Set("X-User-ID", caller)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusForbidden, call("").Code)
	require.Equal(t, http.StatusForbidden, call(f.member.ID.String()).Code)
	rr := call(f.admin.ID.String())
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"allowed":true}`, rr.Body.String())
}
