package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/accessctl/internal/observability"
	"github.com/odyssey-erp/accessctl/internal/rbac"
	rbachttp "github.com/odyssey-erp/accessctl/internal/rbac/http"
	"github.com/odyssey-erp/accessctl/internal/rbac/memstore"
	"github.com/odyssey-erp/accessctl/internal/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("AUTHZ_CACHE_BACKEND", "")
	t.Setenv("REPAIR_ADMIN_EMAILS", "a@example.com,b@example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, "X-User-ID", cfg.IdentityHeader)
	require.Equal(t, CacheBackendNone, cfg.AuthzCacheBackend)
	require.False(t, cfg.CacheEnabled())
	require.Equal(t, "0 3 * * *", cfg.RepairSchedule)
	require.Equal(t, 10*time.Minute, cfg.RepairLockTTL)
	require.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.RepairAdminEmails)
}

func TestLoadConfigCacheBackend(t *testing.T) {
	t.Setenv("AUTHZ_CACHE_BACKEND", "Redis")
	t.Setenv("AUTHZ_CACHE_TTL", "5s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, CacheBackendRedis, cfg.AuthzCacheBackend)
	require.True(t, cfg.CacheEnabled())

	t.Setenv("AUTHZ_CACHE_TTL", "0s")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	require.False(t, cfg.CacheEnabled())

	t.Setenv("AUTHZ_CACHE_BACKEND", "memcached")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
}

func TestIdentityMiddleware(t *testing.T) {
	var seen string
	h := IdentityMiddleware("X-Caller")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Caller", "  abc  ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "abc", seen)

	seen = "unset"
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, seen)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Logger:  nil,
		Config:  &Config{AppEnv: "production", IdentityHeader: "X-User-ID"},
		Metrics: metrics,
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `accessctl_http_requests_total{code="200",route="/healthz"} 1`))
}

func TestRateLimitSparesAuthorizationChecks(t *testing.T) {
	store := memstore.New()
	roles := store.SeedRequiredRoles()
	store.Grant(roles[rbac.RoleUser], store.SeedActivePermission("content:view:all"))
	member := store.SeedUser(rbac.User{Email: "member@example.com"})
	store.Assign(member, roles[rbac.RoleUser])

	resolver := rbac.NewResolver(store, nil, nil)
	repairer := rbac.NewRepairer(store, nil, nil, rbac.RepairConfig{})
	cfg := &Config{AppEnv: "production", IdentityHeader: "X-User-ID", AppRateLimit: 5}
	router := NewRouter(RouterParams{
		Config:       cfg,
		AuthzHandler: rbachttp.NewHandler(nil, resolver, resolver, repairer, rbac.Middleware{Authorizer: resolver}),
	})

	send := func(method, target string) int {
		req := httptest.NewRequest(method, target, nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		req.Header.Set("X-User-ID", member.ID.String())
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	codes := map[int]int{}
	for i := 0; i < 4*cfg.AppRateLimit; i++ {
		codes[send(http.MethodGet, "/v1/authz/check?user_id="+member.ID.String()+"&permission=content:view:all")]++
	}
	require.Equal(t, map[int]int{http.StatusOK: 4 * cfg.AppRateLimit}, codes)

	for i := 0; i < cfg.AppRateLimit; i++ {
		require.Equal(t, http.StatusForbidden, send(http.MethodPost, "/v1/rbac/repair"))
	}
	require.Equal(t, http.StatusTooManyRequests, send(http.MethodPost, "/v1/rbac/repair"))
	require.Equal(t, http.StatusTooManyRequests, send(http.MethodGet, "/v1/authz/users/"+member.ID.String()+"/permissions"))
}
