package rbac_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/accessctl/internal/rbac"
	"github.com/odyssey-erp/accessctl/internal/shared"
)

type staticAuthorizer map[string]bool

func (s staticAuthorizer) HasPermission(_ context.Context, _ string, perm string) bool {
	return s[perm]
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, userID string) int {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID != "" {
		req = req.WithContext(shared.ContextWithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddlewareRequireAny(t *testing.T) {
	m := rbac.Middleware{Authorizer: staticAuthorizer{"content:view:all": true}}
	id := uuid.NewString()

	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny("content:edit:all", "content:view:all"), id))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny("content:edit:all"), id))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny("content:view:all"), ""))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny("content:view:all"), "garbage"))
	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAny(" ", ""), ""))
}

func TestMiddlewareRequireAll(t *testing.T) {
	m := rbac.Middleware{Authorizer: staticAuthorizer{"content:view:all": true, "content:edit:all": true}}
	id := uuid.NewString()

	require.Equal(t, http.StatusNoContent, serve(t, m.RequireAll("content:view:all", "content:edit:all", "content:view:all"), id))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAll("content:view:all", "content:delete:all"), id))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAll("content:view:all"), ""))
}
