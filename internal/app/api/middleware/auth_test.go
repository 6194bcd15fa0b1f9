package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestSessionVerifier(t *testing.T) {
	secret := []byte("s3cret")
	v := NewSessionVerifier(&config.Config{Auth: config.AuthConfig{JWTSecret: "s3cret", JWTIssuer: "id.example"}})
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr bool
	}{
		{"valid", sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "U1", Issuer: "id.example", ExpiresAt: future}), "U1", false},
		{"expired", sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "U1", Issuer: "id.example", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}), "", true},
		{"no expiry", sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "U1", Issuer: "id.example"}), "", true},
		{"wrong issuer", sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "U1", Issuer: "other", ExpiresAt: future}), "", true},
		{"wrong key", sign(t, jwt.SigningMethodHS256, []byte("nope"), jwt.RegisteredClaims{Subject: "U1", Issuer: "id.example", ExpiresAt: future}), "", true},
		{"hs512 rejected", sign(t, jwt.SigningMethodHS512, secret, jwt.RegisteredClaims{Subject: "U1", Issuer: "id.example", ExpiresAt: future}), "", true},
		{"missing sub", sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Issuer: "id.example", ExpiresAt: future}), "", true},
		{"garbage", "a.b.c", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Verify(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NewSessionVerifier(&config.Config{}).Verify("x")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: "s3cret"}}
	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(zap.NewNop().Sugar()), AuthMiddleware(NewSessionVerifier(cfg), zap.NewNop().Sugar()))
	r.GET("/me", func(c *gin.Context) {
		uid, _ := c.Request.Context().Value(logctx.UserIDKey).(string)
		c.String(http.StatusOK, UserID(c)+"|"+uid)
	})

	tok := sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.RegisteredClaims{Subject: "U7", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"bearer", "Bearer " + tok, http.StatusOK, "U7|U7"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + tok, http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.body, w.Body.String())
			} else {
				assert.JSONEq(t, `{"code":40100,"message":"unauthorized","data":{"reason":"unauthenticated"}}`, w.Body.String())
			}
		})
	}
}

func TestAdminTokenMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	build := func(token string) *gin.Engine {
		r := gin.New()
		r.GET("/admin", AdminTokenMiddleware(&config.Config{Auth: config.AuthConfig{AdminToken: token}}), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		return r
	}
	call := func(r *gin.Engine, token string) int {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if token != "" {
			req.Header.Set("X-Admin-Token", token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	r := build("tok")
	assert.Equal(t, http.StatusNoContent, call(r, "tok"))
	assert.Equal(t, http.StatusForbidden, call(r, "tok2"))
	assert.Equal(t, http.StatusForbidden, call(r, ""))
	// unset token closes the group
	assert.Equal(t, http.StatusForbidden, call(build(""), ""))
}

func TestTraceMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, logctx.TraceID(c.Request.Context())) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Body.String())
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get("X-Request-ID"))
}
