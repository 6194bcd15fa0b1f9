package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	svix "github.com/svix/svix-webhooks/go"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/platform/dodo"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

// Dodo signs deliveries per the Standard Webhooks scheme.
const (
	dodoIDHeader        = "webhook-id"
	dodoTimestampHeader = "webhook-timestamp"
	dodoSignatureHeader = "webhook-signature"
)

var dodoTransitions = map[string]transition{
	"payment.succeeded":         {Event: types.BillingEventTypeCheckoutCompleted, Status: types.SubscriptionStatusActive},
	"subscription.active":       {Event: types.BillingEventTypeSubscriptionCreated},
	"subscription.renewed":      {Event: types.BillingEventTypeSubscriptionUpdated},
	"subscription.updated":      {Event: types.BillingEventTypeSubscriptionUpdated},
	"subscription.plan_changed": {Event: types.BillingEventTypeSubscriptionUpdated},
	"subscription.on_hold":      {Event: types.BillingEventTypeSubscriptionUpdated, Status: types.SubscriptionStatusPastDue},
	"subscription.paused":       {Event: types.BillingEventTypeSubscriptionUpdated},
	"subscription.cancelled":    {Event: types.BillingEventTypeSubscriptionCanceled, Status: types.SubscriptionStatusCanceled},
	"subscription.expired":      {Event: types.BillingEventTypeSubscriptionCanceled, Status: types.SubscriptionStatusInactive},
	"subscription.failed":       {Event: types.BillingEventTypeSubscriptionCanceled, Status: types.SubscriptionStatusInactive},
}

var dodoStatuses = statusTable{
	"pending":   types.SubscriptionStatusInactive,
	"active":    types.SubscriptionStatusActive,
	"on_hold":   types.SubscriptionStatusPastDue,
	"paused":    types.SubscriptionStatusInactive,
	"cancelled": types.SubscriptionStatusCanceled,
	"failed":    types.SubscriptionStatusInactive,
	"expired":   types.SubscriptionStatusInactive,
}

type dodoSubscriptionGetter interface {
	GetSubscription(ctx context.Context, id string) (*dodo.Subscription, error)
}

type Dodo struct {
	verifier  *svix.Webhook
	tolerance time.Duration
	plans     planResolver
	client    dodoSubscriptionGetter
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewDodo builds the adapter. A secret that is not a valid whsec_ key leaves
// the verifier unset, so every delivery is rejected as unconfigured.
func NewDodo(cfg *config.Config, client dodoSubscriptionGetter, log *zap.SugaredLogger) *Dodo {
	d := &Dodo{
		tolerance: cfg.Providers.SignatureTolerance,
		plans:     planResolver{cfg: cfg, provider: types.PaymentProviderDodo, log: log},
		client:    client,
		log:       log,
		now:       time.Now,
	}
	if secret := cfg.Provider(types.PaymentProviderDodo).WebhookSecret; secret != "" {
		wh, err := svix.NewWebhook(secret)
		if err != nil {
			log.Errorw("dodo_webhook_secret_invalid", "error", err)
		} else {
			d.verifier = wh
		}
	}
	return d
}

func (d *Dodo) ID() types.PaymentProvider { return types.PaymentProviderDodo }

func (d *Dodo) SignatureHeaders() []string {
	return []string{dodoIDHeader, dodoTimestampHeader, dodoSignatureHeader}
}

func (d *Dodo) Describe(body []byte, header http.Header) (string, string) {
	var env struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &env)
	return env.Type, header.Get(dodoIDHeader)
}

// Verify checks the Standard Webhooks signature with the svix verifier. The
// timestamp window is enforced here against the configured tolerance.
func (d *Dodo) Verify(body []byte, header http.Header) VerifyResult {
	id := header.Get(dodoIDHeader)
	ts := header.Get(dodoTimestampHeader)
	raw := header.Get(dodoSignatureHeader)
	if id == "" || ts == "" || raw == "" {
		return rejected(VerifyReasonMissingSignature)
	}
	if d.verifier == nil {
		return rejected(VerifyReasonSecretNotConfigured)
	}
	if _, reason := checkTimestamp(ts, d.now(), d.tolerance); reason != VerifyReasonOK {
		return rejected(reason)
	}
	if !strings.Contains(raw, "v1,") {
		return rejected(VerifyReasonMalformedSignature)
	}
	if err := d.verifier.Verify(body, header); err != nil {
		return rejected(VerifyReasonInvalidSignature)
	}
	return verified()
}

func (d *Dodo) Normalize(ctx context.Context, body []byte, header http.Header) (*BillingEvent, error) {
	var event dodo.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	tr, ok := dodoTransitions[event.Type]
	if !ok {
		return nil, nil
	}
	if len(event.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}

	ev := &BillingEvent{
		Provider:   types.PaymentProviderDodo,
		EventID:    header.Get(dodoIDHeader),
		EventType:  tr.Event,
		RawType:    event.Type,
		OccurredAt: event.Timestamp,
	}
	if ev.OccurredAt.IsZero() {
		if ts, reason := checkTimestamp(header.Get(dodoTimestampHeader), time.Time{}, 0); reason == VerifyReasonOK {
			ev.OccurredAt = ts
		}
	}

	if tr.Event == types.BillingEventTypeCheckoutCompleted {
		var payment dodo.Payment
		if err := json.Unmarshal(event.Data, &payment); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if payment.SubscriptionID == nil || *payment.SubscriptionID == "" {
			return nil, nil
		}
		productID := payment.ProductID()
		ev.Payload = SubscriptionSnapshot{
			UserID:                 payment.Metadata["user_id"],
			ExternalCustomerID:     payment.Customer.CustomerID,
			ExternalSubscriptionID: *payment.SubscriptionID,
			PriceID:                productID,
			Plan:                   d.plans.resolve(ev.EventID, productID),
			Status:                 tr.Status,
		}
		return finish(ev, body)
	}

	var sub dodo.Subscription
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	snap, ok := d.snapshot(&sub, ev.EventID)
	if !ok {
		return nil, nil
	}
	if tr.Status != "" {
		snap.Status = tr.Status
	}
	ev.Payload = *snap
	return finish(ev, body)
}

func (d *Dodo) FetchAuthoritativeSubscription(ctx context.Context, externalSubscriptionID string) (*SubscriptionSnapshot, error) {
	if d.client == nil {
		return nil, ErrFetchUnavailable
	}
	sub, err := d.client.GetSubscription(ctx, externalSubscriptionID)
	if err != nil {
		return nil, err
	}
	snap, ok := d.snapshot(sub, "")
	if !ok {
		return nil, fmt.Errorf("dodo subscription %s: unknown status %q", externalSubscriptionID, sub.Status)
	}
	return snap, nil
}

func (d *Dodo) snapshot(sub *dodo.Subscription, eventID string) (*SubscriptionSnapshot, bool) {
	status, ok := dodoStatuses.resolve(sub.Status)
	if !ok {
		d.log.Warnw("normalize_unknown_status",
			"provider", types.PaymentProviderDodo,
			"event_id", eventID,
			"status", sub.Status,
		)
		return nil, false
	}
	snap := &SubscriptionSnapshot{
		UserID:                 sub.Metadata["user_id"],
		ExternalCustomerID:     sub.Customer.CustomerID,
		ExternalSubscriptionID: sub.SubscriptionID,
		PriceID:                sub.ProductID,
		Plan:                   d.plans.resolve(eventID, sub.ProductID),
		Status:                 status,
		CurrentPeriodStart:     sub.PreviousBillingDate,
		CurrentPeriodEnd:       sub.NextBillingDate,
		CancelAtPeriodEnd:      sub.CancelAtNextBillingDate,
	}
	return snap, true
}
