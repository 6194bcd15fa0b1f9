package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mw "github.com/fatflowers/billing/internal/app/api/middleware"
	"github.com/fatflowers/billing/internal/app/service/generation"
	"github.com/fatflowers/billing/internal/app/service/quota"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

// @Summary      Billing access
// @Description  Reports whether the signed-in user has paid access, with the canonical plan and status.
// @Tags         Billing
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespBillingAccess
// @Failure      401  {object}  handlers.RespReason
// @Router       /api/v1/billing/access [get]
func ApiGetBillingAccess(gate *quota.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, response.OKT(gate.GetBillingAccess(c.Request.Context(), mw.UserID(c))))
	}
}

// @Summary      Monthly usage
// @Description  Returns this month's usage and the plan limits per resource.
// @Tags         Billing
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespUsageSummary
// @Failure      401  {object}  handlers.RespReason
// @Router       /api/v1/billing/usage [get]
func ApiGetUsage(gate *quota.Gate, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := gate.Usage(c.Request.Context(), mw.UserID(c))
		if err != nil {
			logctx.FromGin(c, log).Errorw("usage_summary_failed", "error", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sum))
	}
}

// @Summary      Run a discovery
// @Description  Paid operation. 402 without an active subscription, 429 when the monthly discovery cap is reached.
// @Tags         Generation
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body generation.Request true "Generation input"
// @Success      200  {object}  handlers.RespGeneration
// @Failure      402  {object}  handlers.RespAccessDenied
// @Failure      429  {object}  handlers.RespQuotaExceeded
// @Router       /api/v1/discovery [post]
func ApiDiscovery(runner generation.Runner, log *zap.SugaredLogger) gin.HandlerFunc {
	return apiGenerate(runner, types.ResourceTypeDiscovery, log)
}

// @Summary      Run a creative
// @Description  Paid operation. 402 without an active subscription, 429 when the monthly creative cap is reached.
// @Tags         Generation
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body generation.Request true "Generation input"
// @Success      200  {object}  handlers.RespGeneration
// @Failure      402  {object}  handlers.RespAccessDenied
// @Failure      429  {object}  handlers.RespQuotaExceeded
// @Router       /api/v1/creative [post]
func ApiCreative(runner generation.Runner, log *zap.SugaredLogger) gin.HandlerFunc {
	return apiGenerate(runner, types.ResourceTypeCreative, log)
}

func apiGenerate(runner generation.Runner, resource types.ResourceType, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generation.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := runner.Run(c.Request.Context(), mw.UserID(c), resource, &req)
		if errors.Is(err, generation.ErrEmptyPrompt) {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err != nil {
			logctx.FromGin(c, log).Errorw("generation_failed", "resource", resource, "error", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// RegisterBillingRoutes mounts the user-facing routes. r must already require
// a session.
func RegisterBillingRoutes(r gin.IRouter, gate *quota.Gate, runner generation.Runner, log *zap.SugaredLogger) {
	r.GET("/billing/access", ApiGetBillingAccess(gate))
	r.GET("/billing/usage", ApiGetUsage(gate, log))

	paid := r.Group("", mw.RequireBillingAccess(gate))
	paid.POST("/discovery", mw.RequireQuota(gate, types.ResourceTypeDiscovery, 1, log), ApiDiscovery(runner, log))
	paid.POST("/creative", mw.RequireQuota(gate, types.ResourceTypeCreative, 1, log), ApiCreative(runner, log))
}
