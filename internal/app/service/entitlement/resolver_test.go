package entitlement

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	models "github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/types"
)

type stubReader struct {
	sub *models.Subscription
	err error
}

func (s stubReader) GetCanonical(context.Context, string) (*models.Subscription, error) {
	return s.sub, s.err
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		reader stubReader
		want   Decision
	}{
		{
			name: "unauthenticated",
			want: Decision{Plan: types.PlanFree, Reason: types.AccessReasonUnauthenticated},
		},
		{
			name:   "no subscription",
			userID: "U1",
			want:   Decision{Plan: types.PlanFree, Reason: types.AccessReasonNotSubscribed},
		},
		{
			name:   "active",
			userID: "U1",
			reader: stubReader{sub: &models.Subscription{Plan: types.PlanPro, Status: types.SubscriptionStatusActive}},
			want:   Decision{OK: true, Plan: types.PlanPro, Status: types.SubscriptionStatusActive},
		},
		{
			name:   "trialing",
			userID: "U1",
			reader: stubReader{sub: &models.Subscription{Plan: types.PlanStarter, Status: types.SubscriptionStatusTrialing}},
			want:   Decision{OK: true, Plan: types.PlanStarter, Status: types.SubscriptionStatusTrialing},
		},
		{
			name:   "canceled",
			userID: "U1",
			reader: stubReader{sub: &models.Subscription{Plan: types.PlanPro, Status: types.SubscriptionStatusCanceled}},
			want:   Decision{Plan: types.PlanPro, Status: types.SubscriptionStatusCanceled, Reason: types.AccessReasonInactive},
		},
		{
			name:   "past due",
			userID: "U1",
			reader: stubReader{sub: &models.Subscription{Plan: types.PlanPro, Status: types.SubscriptionStatusPastDue}},
			want:   Decision{Plan: types.PlanPro, Status: types.SubscriptionStatusPastDue, Reason: types.AccessReasonInactive},
		},
		{
			name:   "store error fails closed",
			userID: "U1",
			reader: stubReader{err: errors.New("connection refused")},
			want:   Decision{Plan: types.PlanFree, Reason: types.AccessReasonInactive},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Resolver{subs: tt.reader, log: zap.NewNop().Sugar()}
			got := r.Resolve(context.Background(), tt.userID)
			got.Subscription = nil
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_CountsDecisions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewBilling(reg)
	require.NoError(t, err)
	r := &Resolver{subs: stubReader{}, metrics: m, log: zap.NewNop().Sugar()}

	r.Resolve(context.Background(), "U1")
	r.Resolve(context.Background(), "")

	expected := `
# HELP billing_entitlement_decisions_total Entitlement resolutions partitioned by result reason.
# TYPE billing_entitlement_decisions_total counter
billing_entitlement_decisions_total{reason="not_subscribed"} 1
billing_entitlement_decisions_total{reason="unauthenticated"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "billing_entitlement_decisions_total"))
}
