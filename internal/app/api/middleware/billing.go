package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/quota"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

const accessKey = "billing_access"

// AccessDenied is the 402 body.
type AccessDenied struct {
	Reason types.AccessReason       `json:"reason"`
	Status types.SubscriptionStatus `json:"status,omitempty"`
	Plan   types.Plan               `json:"plan"`
}

// QuotaExceeded is the 429 body. Limit and Remaining are null for unlimited resources.
type QuotaExceeded struct {
	Plan      types.Plan `json:"plan"`
	Limit     *int64     `json:"limit"`
	Used      int64      `json:"used"`
	Remaining *int64     `json:"remaining"`
}

// RequireBillingAccess lets the request through only for users with an
// entitling subscription. Must run after AuthMiddleware.
func RequireBillingAccess(gate *quota.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := gate.GetBillingAccess(c.Request.Context(), UserID(c))
		if d.Reason == types.AccessReasonUnauthenticated {
			abortUnauthenticated(c)
			return
		}
		if !d.OK {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, response.ErrorT(response.APIResponseCodePaymentRequired,
				AccessDenied{Reason: d.Reason, Status: d.Status, Plan: d.Plan}))
			return
		}
		c.Set(accessKey, d)
		c.Next()
	}
}

// RequireQuota admits the request when n more units of resource fit in the
// user's monthly cap, then records n units once the handler finishes with a
// 2xx status.
func RequireQuota(gate *quota.Gate, resource types.ResourceType, n int64, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			abortUnauthenticated(c)
			return
		}
		d, err := gate.EnsureWithinLimit(c.Request.Context(), userID, resource, n)
		if err != nil {
			logctx.FromGin(c, base).Errorw("quota_check_failed", "resource", resource, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		if !d.OK {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, response.ErrorT(response.APIResponseCodeQuotaExceeded,
				QuotaExceeded{Plan: d.Plan, Limit: d.Limit, Used: d.Used, Remaining: d.Remaining}))
			return
		}

		c.Next()

		if s := c.Writer.Status(); s >= 200 && s < 300 && !c.IsAborted() {
			gate.RecordUsage(c.Request.Context(), userID, resource, n)
		}
	}
}
