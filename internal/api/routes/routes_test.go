package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shieldops/bastion/internal/api/middleware"
	"github.com/shieldops/bastion/internal/config"
)

func setupRouter(t *testing.T) (*gin.Engine, *Services) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := config.Config{
		Environment:           "test",
		RateLimitDefaultAllow: true,
		EnforceFailOpen:       true,
		AuditWriteTimeout:     2 * time.Second,
		FailedLoginThreshold:  5,
	}

	router := gin.New()
	svcs, err := Register(router, db, cfg)
	require.NoError(t, err)
	return router, svcs
}

func do(router *gin.Engine, method, path, body, actor string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if actor != "" {
		req.Header.Set(middleware.ActorHeader, actor)
	}
	req.RemoteAddr = "192.168.1.10:41000"
	router.ServeHTTP(w, req)
	return w
}

func TestRoutes_Health(t *testing.T) {
	router, _ := setupRouter(t)
	w := do(router, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestRoutes_MutationsRequireActor(t *testing.T) {
	router, _ := setupRouter(t)

	paths := []struct{ path, body string }{
		{"/api/v1/rate-limits", `{"endpoint":"GET /x","limit":5,"window_seconds":60}`},
		{"/api/v1/blocked-ips", `{"ip":"10.0.0.1"}`},
		{"/api/v1/blocked-ips/unblock", `{"ip":"10.0.0.1"}`},
		{"/api/v1/permissions/grant", `{"user_id":"u1","resource":"r","permission":"read"}`},
		{"/api/v1/permissions/revoke", `{"user_id":"u1","resource":"r","permission":"read"}`},
	}
	for _, p := range paths {
		w := do(router, http.MethodPost, p.path, p.body, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, p.path)
	}
}

func TestRoutes_BlockUnblockFlow(t *testing.T) {
	router, _ := setupRouter(t)

	w := do(router, http.MethodPost, "/api/v1/blocked-ips", `{"ip":"10.9.9.9","reason":"abuse"}`, "admin")
	require.Equal(t, http.StatusOK, w.Code)

	// The blocked source is rejected at the gate.
	wBlocked := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/threats", nil)
	req.RemoteAddr = "10.9.9.9:41000"
	router.ServeHTTP(wBlocked, req)
	assert.Equal(t, http.StatusForbidden, wBlocked.Code)

	w = do(router, http.MethodGet, "/api/v1/blocked-ips", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "10.9.9.9")

	w = do(router, http.MethodPost, "/api/v1/blocked-ips/unblock", `{"ip":"10.9.9.9"}`, "admin")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPost, "/api/v1/blocked-ips/unblock", `{"ip":"10.9.9.9"}`, "admin")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/api/v1/blocked-ips", `{"ip":"not-an-ip"}`, "admin")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_RateLimitRuleAndEnforcement(t *testing.T) {
	router, _ := setupRouter(t)

	w := do(router, http.MethodPost, "/api/v1/rate-limits", `{"endpoint":"GET /api/v1/threats","limit":2,"window_seconds":60}`, "admin")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/threats", "", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/threats", "", "").Code)
	limited := do(router, http.MethodGet, "/api/v1/threats", "", "")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)

	w = do(router, http.MethodGet, "/api/v1/rate-limits", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"endpoint_key":"GET /api/v1/threats"`)

	w = do(router, http.MethodPost, "/api/v1/rate-limits", `{"endpoint":"GET /x","limit":-1,"window_seconds":60}`, "admin")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_PermissionFlow(t *testing.T) {
	router, _ := setupRouter(t)

	w := do(router, http.MethodPost, "/api/v1/permissions/grant", `{"user_id":"u1","resource":"reports","permission":"read"}`, "admin")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/v1/permissions/check?user_id=u1&resource=reports&permission=read", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":true`)

	w = do(router, http.MethodGet, "/api/v1/permissions/check?user_id=u1&resource=reports&permission=admin", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"allowed":false`)

	w = do(router, http.MethodGet, "/api/v1/permissions/check?user_id=u1", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/v1/permissions/grant", `{"user_id":"u1","resource":"reports","permission":"fly"}`, "admin")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/v1/permissions/revoke", `{"user_id":"u1","resource":"reports","permission":"read"}`, "admin")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPost, "/api/v1/permissions/revoke", `{"user_id":"u1","resource":"reports","permission":"read"}`, "admin")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutes_AuditTrailAndStats(t *testing.T) {
	router, _ := setupRouter(t)

	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/blocked-ips", `{"ip":"10.0.0.1"}`, "admin").Code)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/v1/permissions/grant", `{"user_id":"u1","resource":"r","permission":"read"}`, "admin").Code)

	w := do(router, http.MethodGet, "/api/v1/audit?action=IP_BLOCKED", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Total)

	w = do(router, http.MethodGet, "/api/v1/audit?success=maybe", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/api/v1/audit/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":2`)

	w = do(router, http.MethodGet, "/api/v1/audit/export", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Body.String(), "IP_BLOCKED")
}

func TestRoutes_MetricsEndpoint(t *testing.T) {
	router, _ := setupRouter(t)
	w := do(router, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bastion_ratelimit_checks_total")
}
