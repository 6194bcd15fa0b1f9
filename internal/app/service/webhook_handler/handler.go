package webhook_handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/provider"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	webhooklog "github.com/fatflowers/billing/internal/app/service/webhook_log"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/types"
)

// Delivery outcomes beyond the reconciler's own.
const (
	OutcomeRejected        = "rejected"
	OutcomeIgnored         = "ignored"
	OutcomeNormalizeFailed = "normalize_failed"
	OutcomeProcessFailed   = "process_failed"
)

// Result is what the HTTP layer returns to the provider.
type Result struct {
	HTTPStatus   int                   `json:"-"`
	Verified     bool                  `json:"verified"`
	VerifyReason provider.VerifyReason `json:"reason,omitempty"`
	EventID      string                `json:"event_id,omitempty"`
	Outcome      string                `json:"outcome"`
}

type eventApplier interface {
	Apply(ctx context.Context, ev *provider.BillingEvent) (*subscription.ApplyResult, error)
}

type WebhookHandler struct {
	providers  *provider.Registry
	audit      *webhooklog.Service
	reconciler eventApplier
	metrics    *metrics.Billing
	log        *zap.SugaredLogger
}

func NewWebhookHandler(providers *provider.Registry, audit *webhooklog.Service, sub *subscription.Service, m *metrics.Billing, log *zap.SugaredLogger) *WebhookHandler {
	return &WebhookHandler{providers: providers, audit: audit, reconciler: sub, metrics: m, log: log}
}

// Handle runs one delivery through verification, normalization and
// reconciliation. Only a failed verification yields a 4xx; processing errors
// are recorded and acknowledged so the provider does not retry forever.
// Every delivery leaves exactly one audit row.
func (h *WebhookHandler) Handle(ctx context.Context, p types.PaymentProvider, body []byte, header http.Header) (*Result, error) {
	impl, err := h.providers.Get(p)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	log := logctx.FromCtx(ctx, h.log).With("provider", p)

	signaturePresent := lo.SomeBy(impl.SignatureHeaders(), func(name string) bool { return header.Get(name) != "" })
	rec, err := h.audit.Begin(ctx, p, body, signaturePresent)
	if err != nil {
		// Finish inserts the row instead
		log.Errorw("webhook_audit_begin_failed", "error", err)
	}
	rec.EventType, rec.EventID = impl.Describe(body, header)

	res := &Result{HTTPStatus: http.StatusOK, EventID: rec.EventID}
	defer func() {
		rec.HTTPStatusReturned = res.HTTPStatus
		h.audit.Finish(context.WithoutCancel(ctx), rec)
		h.metrics.WebhookDelivery(string(p), res.Outcome)
		h.metrics.ObserveProcess("webhook", string(p), start)
	}()

	vr := impl.Verify(body, header)
	res.Verified = vr.Verified
	if !vr.Verified {
		rec.VerifyReason = string(vr.Reason)
		res.VerifyReason = vr.Reason
		res.HTTPStatus = http.StatusBadRequest
		res.Outcome = OutcomeRejected
		log.Warnw("webhook_rejected", "reason", vr.Reason, "event_id", rec.EventID, "signature_present", signaturePresent)
		return res, nil
	}
	rec.Verified = true

	ev, err := impl.Normalize(ctx, body, header)
	if err != nil {
		webhooklog.SetError(rec, err)
		res.Outcome = OutcomeNormalizeFailed
		log.Errorw("webhook_normalize_failed", "event_id", rec.EventID, "error", err)
		return res, nil
	}
	if ev == nil {
		res.Outcome = OutcomeIgnored
		log.Infow("webhook_ignored", "event_type", rec.EventType, "event_id", rec.EventID)
		return res, nil
	}
	rec.EventID = ev.EventID
	res.EventID = ev.EventID
	if ev.Payload.UserID != "" {
		rec.RelatedUserID = lo.ToPtr(ev.Payload.UserID)
	}

	applied, err := h.reconciler.Apply(ctx, ev)
	if err != nil {
		webhooklog.SetError(rec, err)
		res.Outcome = OutcomeProcessFailed
		log.Errorw("webhook_process_failed", "event_id", ev.EventID, "error", err)
		return res, nil
	}
	res.Outcome = string(applied.Outcome)
	rec.Applied = applied.Outcome == subscription.OutcomeApplied
	if applied.UserID != "" {
		rec.RelatedUserID = lo.ToPtr(applied.UserID)
	}
	log.Infow("webhook_processed",
		"event_id", ev.EventID,
		"event_type", ev.EventType,
		"outcome", applied.Outcome,
		"user_id", applied.UserID,
	)
	return res, nil
}

// HandleUnreadable audits a delivery whose body could not be read, for
// example one over the size cap. Its signature cannot be checked, so it is
// rejected like any other unverifiable delivery.
func (h *WebhookHandler) HandleUnreadable(ctx context.Context, p types.PaymentProvider, header http.Header, readErr error) (*Result, error) {
	impl, err := h.providers.Get(p)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	log := logctx.FromCtx(ctx, h.log).With("provider", p)

	signaturePresent := lo.SomeBy(impl.SignatureHeaders(), func(name string) bool { return header.Get(name) != "" })
	rec, err := h.audit.Begin(ctx, p, nil, signaturePresent)
	if err != nil {
		log.Errorw("webhook_audit_begin_failed", "error", err)
	}
	res := &Result{
		HTTPStatus:   http.StatusBadRequest,
		VerifyReason: provider.VerifyReasonBodyUnreadable,
		Outcome:      OutcomeRejected,
	}
	rec.VerifyReason = string(res.VerifyReason)
	rec.HTTPStatusReturned = res.HTTPStatus
	webhooklog.SetError(rec, fmt.Errorf("body_read_failed: %w", readErr))
	h.audit.Finish(context.WithoutCancel(ctx), rec)
	h.metrics.WebhookDelivery(string(p), res.Outcome)
	h.metrics.ObserveProcess("webhook", string(p), start)

	log.Warnw("webhook_rejected", "reason", res.VerifyReason, "signature_present", signaturePresent, "error", readErr)
	return res, nil
}

// IsUnsupportedProvider reports whether err came from an unknown provider name.
func IsUnsupportedProvider(err error) bool {
	return errors.Is(err, provider.ErrUnsupportedProvider)
}

var Module = fx.Options(
	fx.Provide(NewWebhookHandler),
)
