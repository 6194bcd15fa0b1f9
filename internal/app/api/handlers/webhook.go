package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	wh "github.com/fatflowers/billing/internal/app/service/webhook_handler"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

const maxWebhookBody = 1 << 20

// @Summary      Provider webhook
// @Description  Receives a signed billing webhook. Responds 400 only when the signature cannot be verified; every other outcome is acknowledged with 200.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        provider path string true "stripe, paddle or dodo"
// @Param        payload body object true "Raw provider payload"
// @Success      200  {object}  handlers.RespWebhookResult
// @Failure      400  {object}  handlers.RespWebhookResult
// @Router       /webhooks/{provider} [post]
func ApiWebhook(h *wh.WebhookHandler, p types.PaymentProvider, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		l := logctx.FromGin(c, log)
		// signatures cover the exact bytes, so the body is read raw and never re-encoded
		var res *wh.Result
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			l.Warnw("webhook_body_read_failed", "provider", p, "error", err)
			res, err = h.HandleUnreadable(c.Request.Context(), p, c.Request.Header, err)
		} else {
			res, err = h.Handle(c.Request.Context(), p, body, c.Request.Header)
		}
		if wh.IsUnsupportedProvider(err) {
			l.Warnw("webhook_provider_not_configured", "provider", p)
			c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeBadRequest, nil))
			return
		}
		if err != nil {
			l.Errorw("webhook_handle_error", "provider", p, "error", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
			return
		}
		if res.HTTPStatus >= http.StatusBadRequest {
			c.JSON(res.HTTPStatus, response.ErrorT(response.APIResponseCodeBadRequest, res))
			return
		}
		c.JSON(res.HTTPStatus, response.OKT(res))
	}
}

func RegisterWebhookRoutes(r gin.IRouter, h *wh.WebhookHandler, log *zap.SugaredLogger) {
	for _, p := range types.PaymentProviders {
		r.POST("/"+string(p), ApiWebhook(h, p, log))
	}
}
