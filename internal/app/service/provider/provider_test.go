package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

const (
	testStripeSecret = "whsec_stripe_test"
	testPaddleSecret = "pdl_ntfset_test"
)

var testDodoKey = []byte("dodo-signing-key")

func testConfig() *config.Config {
	return &config.Config{
		Providers: config.ProvidersConfig{
			Stripe:             config.ProviderConfig{WebhookSecret: testStripeSecret},
			Paddle:             config.ProviderConfig{WebhookSecret: testPaddleSecret},
			Dodo:               config.ProviderConfig{WebhookSecret: "whsec_" + base64.StdEncoding.EncodeToString(testDodoKey)},
			SignatureTolerance: 5 * time.Minute,
		},
		PriceMappings: []*types.PriceMapping{
			{ProviderID: types.PaymentProviderStripe, PriceID: "price_pro", Plan: types.PlanPro},
			{ProviderID: types.PaymentProviderStripe, PriceID: "price_starter", Plan: types.PlanStarter},
			{ProviderID: types.PaymentProviderPaddle, PriceID: "pri_agency", Plan: types.PlanAgency},
			{ProviderID: types.PaymentProviderDodo, PriceID: "pdt_pro", Plan: types.PlanPro},
		},
	}
}

func nopLog() *zap.SugaredLogger { return zap.NewNop().Sugar() }

type fakeGetter[T any] struct {
	sub *T
	err error
	ids []string
}

func (f *fakeGetter[T]) GetSubscription(_ context.Context, id string) (*T, error) {
	f.ids = append(f.ids, id)
	return f.sub, f.err
}

func TestRegistry_Get(t *testing.T) {
	cfg := testConfig()
	r := NewRegistry(NewStripe(cfg, nil, nopLog()), NewPaddle(cfg, nil, nopLog()))

	p, err := r.Get(types.PaymentProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, types.PaymentProviderStripe, p.ID())

	_, err = r.Get(types.PaymentProviderDodo)
	assert.True(t, errors.Is(err, ErrUnsupportedProvider))
}

func TestCheckTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name      string
		raw       string
		tolerance time.Duration
		want      VerifyReason
	}{
		{"within", "1700000100", 5 * time.Minute, VerifyReasonOK},
		{"too old", "1699999000", 5 * time.Minute, VerifyReasonTimestampTolerance},
		{"future", "1700001000", 5 * time.Minute, VerifyReasonTimestampTolerance},
		{"disabled", "1", 0, VerifyReasonOK},
		{"garbage", "abc", 5 * time.Minute, VerifyReasonMalformedSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := checkTimestamp(tt.raw, now, tt.tolerance)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanResolver_UnmappedFallsBackToFree(t *testing.T) {
	r := planResolver{cfg: testConfig(), provider: types.PaymentProviderStripe, log: nopLog()}
	assert.Equal(t, types.PlanPro, r.resolve("evt", "price_pro"))
	assert.Equal(t, types.PlanStarter, r.resolve("evt", "unknown", "price_starter"))
	assert.Equal(t, types.PlanFree, r.resolve("evt", "price_nope"))
	assert.Equal(t, types.PlanFree, r.resolve("evt"))
}

func TestFinish_ContentEventID(t *testing.T) {
	ev := &BillingEvent{
		Provider:  types.PaymentProviderDodo,
		EventType: types.BillingEventTypeSubscriptionUpdated,
		Payload: SubscriptionSnapshot{
			ExternalSubscriptionID: "sub_1",
			Plan:                   types.PlanFree,
			Status:                 types.SubscriptionStatusActive,
		},
	}
	body := []byte(`{"a":1}`)
	got, err := finish(ev, body)
	require.NoError(t, err)
	assert.Regexp(t, `^hash:[0-9a-f]{64}$`, got.EventID)

	again, err := finish(&BillingEvent{
		Provider:  ev.Provider,
		EventType: ev.EventType,
		Payload:   ev.Payload,
	}, body)
	require.NoError(t, err)
	assert.Equal(t, got.EventID, again.EventID)
}

func TestFinish_RejectsMissingSubscriptionID(t *testing.T) {
	_, err := finish(&BillingEvent{
		Provider:  types.PaymentProviderStripe,
		EventID:   "evt_1",
		EventType: types.BillingEventTypeSubscriptionUpdated,
		Payload:   SubscriptionSnapshot{Plan: types.PlanFree, Status: types.SubscriptionStatusActive},
	}, nil)
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}

func TestDescribe(t *testing.T) {
	cfg := testConfig()
	h := http.Header{}
	h.Set(dodoIDHeader, "msg_1")

	typ, id := NewStripe(cfg, nil, nopLog()).Describe([]byte(`{"id":"evt_1","type":"invoice.paid"}`), nil)
	assert.Equal(t, "invoice.paid", typ)
	assert.Equal(t, "evt_1", id)

	typ, id = NewPaddle(cfg, nil, nopLog()).Describe([]byte(`{"event_id":"evt_p","event_type":"subscription.updated"}`), nil)
	assert.Equal(t, "subscription.updated", typ)
	assert.Equal(t, "evt_p", id)

	typ, id = NewDodo(cfg, nil, nopLog()).Describe([]byte(`{"type":"subscription.active"}`), h)
	assert.Equal(t, "subscription.active", typ)
	assert.Equal(t, "msg_1", id)

	typ, id = NewStripe(cfg, nil, nopLog()).Describe([]byte(`garbage`), nil)
	assert.Empty(t, typ)
	assert.Empty(t, id)
}
