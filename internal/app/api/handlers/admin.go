package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/billing/internal/app/service/entitlement"
	"github.com/fatflowers/billing/internal/app/service/provider"
	"github.com/fatflowers/billing/internal/app/service/statistics"
	subsvc "github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/usage"
	webhooklog "github.com/fatflowers/billing/internal/app/service/webhook_log"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

// @Summary      List Webhook Deliveries (Admin)
// @Description  Retrieves a paginated and filterable list of webhook delivery records.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request body webhooklog.ScanRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespWebhookEvents
// @Router       /api/v1/admin/webhook_events [post]
func ApiListWebhookEvents(svc *webhooklog.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req webhooklog.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.Scan(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Get Webhook Delivery (Admin)
// @Tags         Admin
// @Produce      json
// @Security     AdminToken
// @Param        id path string true "Delivery record id"
// @Success      200  {object}  handlers.RespWebhookEvent
// @Router       /api/v1/admin/webhook_events/{id} [get]
func ApiGetWebhookEvent(svc *webhooklog.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		if rec == nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "not found"))
			return
		}
		c.JSON(http.StatusOK, response.OKT(rec))
	}
}

// UserBilling is the operator view of one user.
type UserBilling struct {
	Access        entitlement.Decision   `json:"access"`
	Subscriptions []*models.Subscription `json:"subscriptions"`
}

// @Summary      User Subscriptions (Admin)
// @Description  Lists every subscription row of a user, most recently updated first, with the resolved access.
// @Tags         Admin
// @Produce      json
// @Security     AdminToken
// @Param        user_id path string true "User id"
// @Success      200  {object}  handlers.RespUserBilling
// @Router       /api/v1/admin/users/{user_id}/subscriptions [get]
func ApiUserSubscriptions(sub *subsvc.Service, resolver *entitlement.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("user_id")
		rows, err := sub.ListByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&UserBilling{
			Access:        resolver.Resolve(c.Request.Context(), userID),
			Subscriptions: rows,
		}))
	}
}

// @Summary      User Usage Events (Admin)
// @Description  Lists raw usage events of a user since a point in time (RFC 3339, default start of the current month).
// @Tags         Admin
// @Produce      json
// @Security     AdminToken
// @Param        user_id path string true "User id"
// @Param        since query string false "RFC 3339 lower bound"
// @Param        limit query int false "Max rows (default 100)"
// @Success      200  {object}  handlers.RespUsageEvents
// @Router       /api/v1/admin/users/{user_id}/usage_events [get]
func ApiUserUsageEvents(ledger *usage.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now().UTC()
		since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		if v := c.Query("since"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid since"))
				return
			}
			since = t
		}
		limit := 100
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid limit"))
				return
			}
			limit = n
		}
		events, err := ledger.Events(c.Request.Context(), c.Param("user_id"), since, limit)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(events))
	}
}

// @Summary      Subscription Change Log (Admin)
// @Tags         Admin
// @Produce      json
// @Security     AdminToken
// @Param        id path string true "Subscription row id"
// @Success      200  {object}  handlers.RespSubscriptionLogs
// @Router       /api/v1/admin/subscriptions/{id}/logs [get]
func ApiSubscriptionLogs(sub *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		logs, err := sub.ListLogs(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(logs))
	}
}

// @Summary      Billing Statistics (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request body statistics.Request true "Statistic request parameters"
// @Success      200  {object}  handlers.RespStatistics
// @Router       /api/v1/admin/statistics [post]
func ApiGetStatistics(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.GetStatistics(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type ReconcileRequest struct {
	Provider               types.PaymentProvider `json:"provider" binding:"required"`
	ExternalSubscriptionID string                `json:"external_subscription_id" binding:"required"`
}

// @Summary      Reconcile Subscription (Admin)
// @Description  Fetches the provider's current state of a subscription and applies it.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     AdminToken
// @Param        request body handlers.ReconcileRequest true "Subscription to refresh"
// @Success      200  {object}  handlers.RespApplyResult
// @Router       /api/v1/admin/reconcile [post]
func ApiReconcile(sub *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReconcileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := sub.Refresh(c.Request.Context(), req.Provider, req.ExternalSubscriptionID)
		if errors.Is(err, provider.ErrUnsupportedProvider) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type AdminDeps struct {
	Webhooks *webhooklog.Service
	Subs     *subsvc.Service
	Resolver *entitlement.Resolver
	Ledger   *usage.Ledger
	Stats    *statistics.Service
}

func RegisterAdminRoutes(r gin.IRouter, d AdminDeps) {
	r.POST("/webhook_events", ApiListWebhookEvents(d.Webhooks))
	r.GET("/webhook_events/:id", ApiGetWebhookEvent(d.Webhooks))
	r.GET("/users/:user_id/subscriptions", ApiUserSubscriptions(d.Subs, d.Resolver))
	r.GET("/users/:user_id/usage_events", ApiUserUsageEvents(d.Ledger))
	r.GET("/subscriptions/:id/logs", ApiSubscriptionLogs(d.Subs))
	r.POST("/statistics", ApiGetStatistics(d.Stats))
	r.POST("/reconcile", ApiReconcile(d.Subs))
}
