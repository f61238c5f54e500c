package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fitmarket/backend/internal/infrastructure/auth"
	"github.com/fitmarket/backend/internal/infrastructure/config"
	"github.com/fitmarket/backend/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestVerifier() *auth.TokenVerifier {
	return auth.NewTokenVerifier(config.JWTConfig{
		Secret: "test-secret-key-at-least-32-chars",
		Issuer: "review-ui",
	})
}

func newJWTRouter(v *auth.TokenVerifier, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(JWTMiddlewareConfig{
		Validator:        v,
		SkipPaths:        []string{"/health"},
		SkipPathPrefixes: []string{"/webhooks/"},
		Logger:           log,
	}))
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"subject": GetJWTSubject(c)}) }
	router.GET("/health", ok)
	router.POST("/webhooks/commerce", ok)
	router.GET("/records", RequireScope(auth.ScopeSyncRead), ok)
	router.POST("/sync", RequireScope(auth.ScopeSyncWrite), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": logger.GetSubject(c.Request.Context())})
	})
	return router
}

func serve(router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(AuthHeaderKey, token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth_ValidToken(t *testing.T) {
	v := newTestVerifier()
	token, err := v.Sign("reviewer-7", []string{auth.ScopeSyncRead, auth.ScopeSyncWrite}, time.Hour)
	require.NoError(t, err)
	router := newJWTRouter(v, nil)

	rec := serve(router, http.MethodGet, "/records", BearerPrefix+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"subject":"reviewer-7"}`, rec.Body.String())

	rec = serve(router, http.MethodPost, "/sync", BearerPrefix+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"subject":"reviewer-7"}`, rec.Body.String())
}

func TestJWTAuth_Rejections(t *testing.T) {
	v := newTestVerifier()
	expired, err := v.Sign("reviewer-7", nil, -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "ERR_TOKEN_INVALID"},
		{"basic auth", "Basic dXNlcjpwYXNz", "ERR_TOKEN_INVALID"},
		{"empty bearer", BearerPrefix, "ERR_TOKEN_INVALID"},
		{"garbage", BearerPrefix + "abc.def.ghi", "ERR_TOKEN_INVALID"},
		{"expired", BearerPrefix + expired, "ERR_TOKEN_EXPIRED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			rec := serve(newJWTRouter(v, zap.New(core)), http.MethodGet, "/records", tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.code)
			assert.Equal(t, 1, logs.FilterMessage("JWT authentication failed").Len())
		})
	}
}

func TestJWTAuth_SkipPaths(t *testing.T) {
	router := newJWTRouter(newTestVerifier(), nil)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/webhooks/commerce", "").Code)
}

func TestRequireScope(t *testing.T) {
	v := newTestVerifier()
	readOnly, err := v.Sign("auditor", []string{auth.ScopeSyncRead}, time.Hour)
	require.NoError(t, err)
	router := newJWTRouter(v, nil)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/records", BearerPrefix+readOnly).Code)
	rec := serve(router, http.MethodPost, "/sync", BearerPrefix+readOnly)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "sync:write")

	bare := gin.New()
	bare.GET("/x", RequireScope(auth.ScopeSyncRead))
	assert.Equal(t, http.StatusUnauthorized, serve(bare, http.MethodGet, "/x", "").Code)
}
