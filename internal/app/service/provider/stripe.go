package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

const stripeSignatureHeader = "Stripe-Signature"

var stripeTransitions = map[stripego.EventType]transition{
	"checkout.session.completed":    {Event: types.BillingEventTypeCheckoutCompleted, Status: types.SubscriptionStatusActive},
	"customer.subscription.created": {Event: types.BillingEventTypeSubscriptionCreated},
	"customer.subscription.updated": {Event: types.BillingEventTypeSubscriptionUpdated},
	"customer.subscription.paused":  {Event: types.BillingEventTypeSubscriptionUpdated},
	"customer.subscription.resumed": {Event: types.BillingEventTypeSubscriptionUpdated},
	"customer.subscription.deleted": {Event: types.BillingEventTypeSubscriptionCanceled, Status: types.SubscriptionStatusCanceled},
}

var stripeStatuses = statusTable{
	string(stripego.SubscriptionStatusActive):            types.SubscriptionStatusActive,
	string(stripego.SubscriptionStatusTrialing):          types.SubscriptionStatusTrialing,
	string(stripego.SubscriptionStatusPastDue):           types.SubscriptionStatusPastDue,
	string(stripego.SubscriptionStatusUnpaid):            types.SubscriptionStatusPastDue,
	string(stripego.SubscriptionStatusCanceled):          types.SubscriptionStatusCanceled,
	string(stripego.SubscriptionStatusIncomplete):        types.SubscriptionStatusInactive,
	string(stripego.SubscriptionStatusIncompleteExpired): types.SubscriptionStatusInactive,
	string(stripego.SubscriptionStatusPaused):            types.SubscriptionStatusInactive,
}

type stripeSubscriptionGetter interface {
	GetSubscription(ctx context.Context, id string) (*stripego.Subscription, error)
}

type Stripe struct {
	secret    string
	tolerance time.Duration
	plans     planResolver
	client    stripeSubscriptionGetter
	log       *zap.SugaredLogger
}

func NewStripe(cfg *config.Config, client stripeSubscriptionGetter, log *zap.SugaredLogger) *Stripe {
	return &Stripe{
		secret:    cfg.Provider(types.PaymentProviderStripe).WebhookSecret,
		tolerance: cfg.Providers.SignatureTolerance,
		plans:     planResolver{cfg: cfg, provider: types.PaymentProviderStripe, log: log},
		client:    client,
		log:       log,
	}
}

func (s *Stripe) ID() types.PaymentProvider { return types.PaymentProviderStripe }

func (s *Stripe) SignatureHeaders() []string { return []string{stripeSignatureHeader} }

func (s *Stripe) Describe(body []byte, _ http.Header) (string, string) {
	var env struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	_ = json.Unmarshal(body, &env)
	return env.Type, env.ID
}

func (s *Stripe) Verify(body []byte, header http.Header) VerifyResult {
	sig := header.Get(stripeSignatureHeader)
	if sig == "" {
		return rejected(VerifyReasonMissingSignature)
	}
	if s.secret == "" {
		return rejected(VerifyReasonSecretNotConfigured)
	}
	var err error
	if s.tolerance > 0 {
		err = webhook.ValidatePayloadWithTolerance(body, sig, s.secret, s.tolerance)
	} else {
		err = webhook.ValidatePayloadIgnoringTolerance(body, sig, s.secret)
	}
	switch {
	case err == nil:
		return verified()
	case errors.Is(err, webhook.ErrNotSigned):
		return rejected(VerifyReasonMissingSignature)
	case errors.Is(err, webhook.ErrInvalidHeader):
		return rejected(VerifyReasonMalformedSignature)
	case errors.Is(err, webhook.ErrTooOld):
		return rejected(VerifyReasonTimestampTolerance)
	default:
		return rejected(VerifyReasonInvalidSignature)
	}
}

func (s *Stripe) Normalize(ctx context.Context, body []byte, _ http.Header) (*BillingEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	tr, ok := stripeTransitions[event.Type]
	if !ok {
		return nil, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: missing data.object", ErrMalformedPayload)
	}

	ev := &BillingEvent{
		Provider:   types.PaymentProviderStripe,
		EventID:    event.ID,
		EventType:  tr.Event,
		RawType:    string(event.Type),
		OccurredAt: time.Unix(event.Created, 0),
	}
	if event.Created <= 0 {
		ev.OccurredAt = time.Time{}
	}

	if tr.Event == types.BillingEventTypeCheckoutCompleted {
		var session stripego.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if session.Subscription == nil || session.Subscription.ID == "" {
			// one-off payments carry no subscription
			return nil, nil
		}
		priceID := session.Metadata["price_id"]
		ev.Payload = SubscriptionSnapshot{
			UserID:                 firstNonEmpty(session.ClientReferenceID, session.Metadata["user_id"]),
			ExternalSubscriptionID: session.Subscription.ID,
			PriceID:                priceID,
			Plan:                   s.plans.resolve(event.ID, priceID),
			Status:                 tr.Status,
		}
		if session.Customer != nil {
			ev.Payload.ExternalCustomerID = session.Customer.ID
		}
		return finish(ev, body)
	}

	var sub stripego.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	snap, ok := s.snapshot(&sub, event.ID)
	if !ok {
		return nil, nil
	}
	if tr.Status != "" {
		snap.Status = tr.Status
	}
	ev.Payload = *snap
	return finish(ev, body)
}

func (s *Stripe) FetchAuthoritativeSubscription(ctx context.Context, externalSubscriptionID string) (*SubscriptionSnapshot, error) {
	if s.client == nil {
		return nil, ErrFetchUnavailable
	}
	sub, err := s.client.GetSubscription(ctx, externalSubscriptionID)
	if err != nil {
		return nil, err
	}
	snap, ok := s.snapshot(sub, "")
	if !ok {
		return nil, fmt.Errorf("stripe subscription %s: unknown status %q", externalSubscriptionID, sub.Status)
	}
	return snap, nil
}

// snapshot returns false when the status has no canonical mapping.
func (s *Stripe) snapshot(sub *stripego.Subscription, eventID string) (*SubscriptionSnapshot, bool) {
	status, ok := stripeStatuses.resolve(string(sub.Status))
	if !ok {
		s.log.Warnw("normalize_unknown_status",
			"provider", types.PaymentProviderStripe,
			"event_id", eventID,
			"status", sub.Status,
		)
		return nil, false
	}
	var priceID, productID string
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
		if sub.Items.Data[0].Price.Product != nil {
			productID = sub.Items.Data[0].Price.Product.ID
		}
	}
	snap := &SubscriptionSnapshot{
		UserID:                 sub.Metadata["user_id"],
		ExternalSubscriptionID: sub.ID,
		PriceID:                priceID,
		Plan:                   s.plans.resolve(eventID, priceID, productID),
		Status:                 status,
		CurrentPeriodStart:     unixPtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:       unixPtr(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		snap.ExternalCustomerID = sub.Customer.ID
	}
	return snap, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
