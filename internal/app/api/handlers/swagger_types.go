package handlers

import (
	mw "github.com/fatflowers/billing/internal/app/api/middleware"
	"github.com/fatflowers/billing/internal/app/service/entitlement"
	"github.com/fatflowers/billing/internal/app/service/generation"
	"github.com/fatflowers/billing/internal/app/service/quota"
	"github.com/fatflowers/billing/internal/app/service/statistics"
	subsvc "github.com/fatflowers/billing/internal/app/service/subscription"
	wh "github.com/fatflowers/billing/internal/app/service/webhook_handler"
	webhooklog "github.com/fatflowers/billing/internal/app/service/webhook_log"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/response"
)

// Envelope types for the generated API docs. Handlers build the same shapes
// through response.OKT / response.ErrorT.

type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespReason struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    response.Reason          `json:"data"`
}

type RespWebhookResult struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    wh.Result                `json:"data"`
}

type RespBillingAccess struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    entitlement.Decision     `json:"data"`
}

type RespUsageSummary struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    quota.UsageSummary       `json:"data"`
}

// RespAccessDenied is the 402 body.
type RespAccessDenied struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    mw.AccessDenied          `json:"data"`
}

// RespQuotaExceeded is the 429 body.
type RespQuotaExceeded struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    mw.QuotaExceeded         `json:"data"`
}

type RespGeneration struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    generation.Result        `json:"data"`
}

type RespWebhookEvents struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    webhooklog.ScanResponse  `json:"data"`
}

type RespWebhookEvent struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.WebhookEvent      `json:"data"`
}

type RespUserBilling struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    UserBilling              `json:"data"`
}

type RespUsageEvents struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []models.UsageEvent      `json:"data"`
}

type RespSubscriptionLogs struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []models.SubscriptionLog `json:"data"`
}

type RespStatistics struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Response      `json:"data"`
}

type RespApplyResult struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    subsvc.ApplyResult       `json:"data"`
}
