// Package provider verifies and normalizes billing webhooks from Stripe,
// Paddle and Dodo into one BillingEvent shape.
//
// A Stripe checkout.session.completed payload has no line items, so whoever
// creates the Checkout Session must put the price in metadata["price_id"]
// and the user in client_reference_id or metadata["user_id"]. When the
// price is missing the event resolves to the free plan and the reconciler's
// subscription re-fetch supplies the real price.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/platform/dodo"
	"github.com/fatflowers/billing/internal/platform/paddle"
	stripeclient "github.com/fatflowers/billing/internal/platform/stripe"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrFetchUnavailable    = errors.New("subscription fetch not configured")
)

// SubscriptionSnapshot is the subscription state carried by an event or
// fetched from the provider.
type SubscriptionSnapshot struct {
	UserID                 string                   `json:"user_id"`
	ExternalCustomerID     string                   `json:"external_customer_id"`
	ExternalSubscriptionID string                   `json:"external_subscription_id" validate:"required"`
	PriceID                string                   `json:"price_id"`
	Plan                   types.Plan               `json:"plan" validate:"required,oneof=free starter pro agency"`
	Status                 types.SubscriptionStatus `json:"status" validate:"required,oneof=active trialing past_due canceled inactive"`
	CurrentPeriodStart     *time.Time               `json:"current_period_start"`
	CurrentPeriodEnd       *time.Time               `json:"current_period_end"`
	CancelAtPeriodEnd      bool                     `json:"cancel_at_period_end"`
}

// BillingEvent is a verified provider event in canonical form.
type BillingEvent struct {
	Provider  types.PaymentProvider  `json:"provider" validate:"required"`
	EventID   string                 `json:"event_id" validate:"required"`
	EventType types.BillingEventType `json:"event_type" validate:"required,oneof=checkout_completed subscription_created subscription_updated subscription_canceled"`
	// RawType is the provider's own event name.
	RawType string `json:"raw_type"`
	// OccurredAt is the provider-side timestamp; zero when the provider sent none.
	OccurredAt time.Time            `json:"occurred_at"`
	Payload    SubscriptionSnapshot `json:"payload" validate:"required"`
}

// Provider is the capability set every payment provider implements. The
// reconciler and webhook handler depend on this interface only.
type Provider interface {
	ID() types.PaymentProvider
	// SignatureHeaders lists the headers that carry the signature.
	SignatureHeaders() []string
	// Describe extracts the claimed event type and id without verifying or
	// interpreting the payload. Used for auditing only.
	Describe(body []byte, header http.Header) (eventType, eventID string)
	// Verify checks the signature over the raw body. A bad signature is a
	// normal outcome, reported through VerifyResult.
	Verify(body []byte, header http.Header) VerifyResult
	// Normalize maps a verified payload to at most one event. Irrelevant
	// event types return nil without error.
	Normalize(ctx context.Context, body []byte, header http.Header) (*BillingEvent, error)
	FetchAuthoritativeSubscription(ctx context.Context, externalSubscriptionID string) (*SubscriptionSnapshot, error)
}

// Registry dispatches by provider id.
type Registry struct {
	providers map[types.PaymentProvider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[types.PaymentProvider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.ID()] = p
	}
	return r
}

func (r *Registry) Get(id types.PaymentProvider) (Provider, error) {
	if p, ok := r.providers[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, id)
}

func newDefaultRegistry(cfg *config.Config, log *zap.SugaredLogger) (*Registry, error) {
	stripeCfg := cfg.Provider(types.PaymentProviderStripe)
	paddleCfg := cfg.Provider(types.PaymentProviderPaddle)
	dodoCfg := cfg.Provider(types.PaymentProviderDodo)
	paddleClient, err := paddle.NewClient(paddleCfg.APIKey, paddleCfg.APIBaseURL)
	if err != nil {
		return nil, err
	}
	return NewRegistry(
		NewStripe(cfg, stripeclient.NewClient(stripeCfg.APIKey, stripeCfg.APIBaseURL, log), log),
		NewPaddle(cfg, paddleClient, log),
		NewDodo(cfg, dodo.NewClient(dodoCfg.APIKey, dodoCfg.APIBaseURL), log),
	), nil
}

// Module exposes the provider registry via Fx.
var Module = fx.Options(
	fx.Provide(newDefaultRegistry),
)
