package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/logctx"
)

// RequestLoggerMiddleware attaches a logger carrying trace_id to gin.Context
// and the request context. AuthMiddleware later adds user_id to it.
func RequestLoggerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLogger := base.With("trace_id", logctx.TraceID(c))
		setLogger(c, reqLogger)
		c.Next()
	}
}

func setLogger(c *gin.Context, l *zap.SugaredLogger) {
	c.Set(logctx.LoggerKey, l)
	ctx := context.WithValue(c.Request.Context(), logctx.LoggerKey, l)
	c.Request = c.Request.WithContext(ctx)
}
