package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddlesdk "github.com/PaddleHQ/paddle-go-sdk/v3"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/platform/paddle"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

const paddleSignatureHeader = "Paddle-Signature"

var paddleTransitions = map[string]transition{
	"transaction.completed":  {Event: types.BillingEventTypeCheckoutCompleted, Status: types.SubscriptionStatusActive},
	"subscription.created":   {Event: types.BillingEventTypeSubscriptionCreated},
	"subscription.activated": {Event: types.BillingEventTypeSubscriptionUpdated},
	"subscription.updated":   {Event: types.BillingEventTypeSubscriptionUpdated},
	"subscription.trialing":  {Event: types.BillingEventTypeSubscriptionUpdated},
	"subscription.past_due":  {Event: types.BillingEventTypeSubscriptionUpdated},
	"subscription.paused":    {Event: types.BillingEventTypeSubscriptionUpdated},
	"subscription.resumed":   {Event: types.BillingEventTypeSubscriptionUpdated},
	"subscription.canceled":  {Event: types.BillingEventTypeSubscriptionCanceled, Status: types.SubscriptionStatusCanceled},
}

var paddleStatuses = statusTable{
	"active":   types.SubscriptionStatusActive,
	"trialing": types.SubscriptionStatusTrialing,
	"past_due": types.SubscriptionStatusPastDue,
	"paused":   types.SubscriptionStatusInactive,
	"canceled": types.SubscriptionStatusCanceled,
}

type paddleSubscriptionGetter interface {
	GetSubscription(ctx context.Context, id string) (*paddle.Subscription, error)
}

type Paddle struct {
	verifier  *paddlesdk.WebhookVerifier
	tolerance time.Duration
	plans     planResolver
	client    paddleSubscriptionGetter
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewPaddle(cfg *config.Config, client paddleSubscriptionGetter, log *zap.SugaredLogger) *Paddle {
	p := &Paddle{
		tolerance: cfg.Providers.SignatureTolerance,
		plans:     planResolver{cfg: cfg, provider: types.PaymentProviderPaddle, log: log},
		client:    client,
		log:       log,
		now:       time.Now,
	}
	if secret := cfg.Provider(types.PaymentProviderPaddle).WebhookSecret; secret != "" {
		p.verifier = paddlesdk.NewWebhookVerifier(secret)
	}
	return p
}

func (p *Paddle) ID() types.PaymentProvider { return types.PaymentProviderPaddle }

func (p *Paddle) SignatureHeaders() []string { return []string{paddleSignatureHeader} }

func (p *Paddle) Describe(body []byte, _ http.Header) (string, string) {
	var env struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
	}
	_ = json.Unmarshal(body, &env)
	return env.EventType, env.EventID
}

// Verify checks "ts=<unix>;h1=<hex>" with the Paddle SDK verifier. The
// timestamp window is enforced here against the configured tolerance.
func (p *Paddle) Verify(body []byte, header http.Header) VerifyResult {
	raw := header.Get(paddleSignatureHeader)
	if raw == "" {
		return rejected(VerifyReasonMissingSignature)
	}
	if p.verifier == nil {
		return rejected(VerifyReasonSecretNotConfigured)
	}
	ts, ok := paddleSignatureParts(raw)
	if !ok {
		return rejected(VerifyReasonMalformedSignature)
	}
	if _, reason := checkTimestamp(ts, p.now(), p.tolerance); reason != VerifyReasonOK {
		return rejected(reason)
	}

	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return rejected(VerifyReasonMalformedSignature)
	}
	req.Header = header
	if valid, err := p.verifier.Verify(req); err != nil || !valid {
		return rejected(VerifyReasonInvalidSignature)
	}
	return verified()
}

// paddleSignatureParts returns the ts value and reports whether the header has
// exactly the "ts=...;h1=..." shape.
func paddleSignatureParts(raw string) (string, bool) {
	var ts, h1 string
	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return "", false
		}
		switch k {
		case "ts":
			ts = v
		case "h1":
			h1 = v
		}
	}
	return ts, ts != "" && h1 != ""
}

func (p *Paddle) Normalize(ctx context.Context, body []byte, _ http.Header) (*BillingEvent, error) {
	var event paddle.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	tr, ok := paddleTransitions[event.EventType]
	if !ok {
		return nil, nil
	}
	if len(event.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}

	ev := &BillingEvent{
		Provider:   types.PaymentProviderPaddle,
		EventID:    event.EventID,
		EventType:  tr.Event,
		RawType:    event.EventType,
		OccurredAt: event.OccurredAt,
	}

	if tr.Event == types.BillingEventTypeCheckoutCompleted {
		var txn paddle.Transaction
		if err := json.Unmarshal(event.Data, &txn); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if txn.SubscriptionID == "" {
			return nil, nil
		}
		priceID := txn.PriceID()
		ev.Payload = SubscriptionSnapshot{
			UserID:                 paddle.CustomString(txn.CustomData, "user_id"),
			ExternalCustomerID:     txn.CustomerID,
			ExternalSubscriptionID: txn.SubscriptionID,
			PriceID:                priceID,
			Plan:                   p.plans.resolve(event.EventID, priceID),
			Status:                 tr.Status,
		}
		if txn.BillingPeriod != nil {
			ev.Payload.CurrentPeriodStart = timePtr(txn.BillingPeriod.StartsAt)
			ev.Payload.CurrentPeriodEnd = timePtr(txn.BillingPeriod.EndsAt)
		}
		return finish(ev, body)
	}

	var sub paddle.Subscription
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	snap, ok := p.snapshot(&sub, event.EventID)
	if !ok {
		return nil, nil
	}
	if tr.Status != "" {
		snap.Status = tr.Status
	}
	ev.Payload = *snap
	return finish(ev, body)
}

func (p *Paddle) FetchAuthoritativeSubscription(ctx context.Context, externalSubscriptionID string) (*SubscriptionSnapshot, error) {
	if p.client == nil {
		return nil, ErrFetchUnavailable
	}
	sub, err := p.client.GetSubscription(ctx, externalSubscriptionID)
	if err != nil {
		return nil, err
	}
	snap, ok := p.snapshot(sub, "")
	if !ok {
		return nil, fmt.Errorf("paddle subscription %s: unknown status %q", externalSubscriptionID, sub.Status)
	}
	return snap, nil
}

func (p *Paddle) snapshot(sub *paddle.Subscription, eventID string) (*SubscriptionSnapshot, bool) {
	status, ok := paddleStatuses.resolve(sub.Status)
	if !ok {
		p.log.Warnw("normalize_unknown_status",
			"provider", types.PaymentProviderPaddle,
			"event_id", eventID,
			"status", sub.Status,
		)
		return nil, false
	}
	var productID string
	if len(sub.Items) > 0 {
		productID = sub.Items[0].Price.ProductID
	}
	snap := &SubscriptionSnapshot{
		UserID:                 paddle.CustomString(sub.CustomData, "user_id"),
		ExternalCustomerID:     sub.CustomerID,
		ExternalSubscriptionID: sub.ID,
		PriceID:                sub.PriceID(),
		Plan:                   p.plans.resolve(eventID, sub.PriceID(), productID),
		Status:                 status,
		CancelAtPeriodEnd:      sub.CancelScheduled(),
	}
	if sub.CurrentBillingPeriod != nil {
		snap.CurrentPeriodStart = timePtr(sub.CurrentBillingPeriod.StartsAt)
		snap.CurrentPeriodEnd = timePtr(sub.CurrentBillingPeriod.EndsAt)
	}
	return snap, true
}
