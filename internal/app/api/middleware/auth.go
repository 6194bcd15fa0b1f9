package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/response"
)

var ErrInvalidToken = errors.New("invalid session token")

// SessionVerifier turns a bearer token into a user id.
type SessionVerifier struct {
	secret []byte
	issuer string
}

func NewSessionVerifier(cfg *config.Config) *SessionVerifier {
	return &SessionVerifier{secret: []byte(cfg.Auth.JWTSecret), issuer: cfg.Auth.JWTIssuer}
}

// Verify checks an HS256 token and returns its subject.
func (v *SessionVerifier) Verify(token string) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("%w: no secret configured", ErrInvalidToken)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// AuthMiddleware requires a valid bearer session and stores the user id under
// logctx.UserIDKey. Requests without one get 401.
func AuthMiddleware(v *SessionVerifier, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			abortUnauthenticated(c)
			return
		}
		userID, err := v.Verify(strings.TrimSpace(raw))
		if err != nil {
			logctx.FromGin(c, base).Infow("auth_rejected", "error", err)
			abortUnauthenticated(c)
			return
		}

		c.Set(logctx.UserIDKey, userID)
		ctx := context.WithValue(c.Request.Context(), logctx.UserIDKey, userID)
		c.Request = c.Request.WithContext(ctx)
		setLogger(c, logctx.FromGin(c, base).With("user_id", userID))
		c.Next()
	}
}

// UserID returns the authenticated user id, or "".
func UserID(c *gin.Context) string {
	return c.GetString(logctx.UserIDKey)
}

func abortUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		response.ErrorT(response.APIResponseCodeUnauthorized, response.Reason{Reason: "unauthenticated"}))
}

// AdminTokenMiddleware guards operator routes with a static token passed as
// X-Admin-Token. An unset token closes the routes entirely.
func AdminTokenMiddleware(cfg *config.Config) gin.HandlerFunc {
	want := []byte(cfg.Auth.AdminToken)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("X-Admin-Token"))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorT[any](response.APIResponseCodeForbidden, nil))
			return
		}
		c.Next()
	}
}
