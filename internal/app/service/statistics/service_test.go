package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/db/dbtest"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

var now = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, db *gorm.DB) {
	subs := []*models.Subscription{
		{UserID: "U1", Provider: types.PaymentProviderStripe, ExternalSubscriptionID: "s1", Plan: types.PlanPro, Status: types.SubscriptionStatusActive},
		{UserID: "U2", Provider: types.PaymentProviderStripe, ExternalSubscriptionID: "s2", Plan: types.PlanPro, Status: types.SubscriptionStatusTrialing},
		{UserID: "U3", Provider: types.PaymentProviderPaddle, ExternalSubscriptionID: "s3", Plan: types.PlanStarter, Status: types.SubscriptionStatusCanceled},
	}
	for _, s := range subs {
		s.ID = tool.GenerateUUIDV7()
		require.NoError(t, db.Create(s).Error)
	}
	events := []*models.WebhookEvent{
		{Provider: types.PaymentProviderStripe, Verified: true},
		{Provider: types.PaymentProviderStripe, Verified: false},
		{Provider: types.PaymentProviderDodo, Verified: true, ProcessError: func() *string { s := "boom"; return &s }()},
	}
	for _, e := range events {
		e.ID = tool.GenerateUUIDV7()
		require.NoError(t, db.Create(e).Error)
	}
	usage := []*models.UsageEvent{
		{UserID: "U1", ResourceType: types.ResourceTypeDiscovery, Quantity: 3, CreatedAt: now},
		{UserID: "U2", ResourceType: types.ResourceTypeDiscovery, Quantity: 2, CreatedAt: now},
		{UserID: "U1", ResourceType: types.ResourceTypeCreative, Quantity: 1, CreatedAt: now},
		{UserID: "U1", ResourceType: types.ResourceTypeCreative, Quantity: 7, CreatedAt: now.AddDate(0, -1, 0)},
	}
	for _, u := range usage {
		u.ID = tool.GenerateUUIDV7()
		require.NoError(t, db.Create(u).Error)
	}
}

func TestGetStatistics(t *testing.T) {
	db := dbtest.New(t)
	seed(t, db)
	svc := New(db)
	svc.now = func() time.Time { return now }

	res, err := svc.GetStatistics(context.Background(), &Request{DataItems: []*DataItem{
		{ID: StatisticTypeSubscriptionStatusCount},
		{ID: StatisticTypeEntitledByPlan},
		{ID: StatisticTypeWebhookDeliveries},
		{ID: StatisticTypeMonthlyUsage},
		{ID: StatisticTypeDailyWebhookDeliveries},
	}})
	require.NoError(t, err)

	assert.Equal(t, []ResponseDataItem{
		{Label: "active", Value: 1},
		{Label: "canceled", Value: 1},
		{Label: "trialing", Value: 1},
	}, res.DataItems[StatisticTypeSubscriptionStatusCount])

	assert.Equal(t, []ResponseDataItem{{Label: "pro", Value: 2}}, res.DataItems[StatisticTypeEntitledByPlan])

	assert.Equal(t, []ResponseDataItem{
		{Label: "dodo", Value: 1, Value2: 0, Value3: 1},
		{Label: "stripe", Value: 2, Value2: 1, Value3: 0},
	}, res.DataItems[StatisticTypeWebhookDeliveries])

	assert.Equal(t, []ResponseDataItem{
		{Label: "creative", Value: 1, Value2: 1},
		{Label: "discovery", Value: 5, Value2: 2},
	}, res.DataItems[StatisticTypeMonthlyUsage])

	assert.Len(t, res.DataItems[StatisticTypeDailyWebhookDeliveries], 2)
}

func TestGetStatistics_Filters(t *testing.T) {
	db := dbtest.New(t)
	seed(t, db)
	svc := New(db)

	res, err := svc.GetStatistics(context.Background(), &Request{
		Filters: []*types.CommonFilter{{Field: "provider", Operator: types.CommonFilterOperatorEq, Values: []any{"paddle"}}},
		DataItems: []*DataItem{
			{ID: StatisticTypeSubscriptionStatusCount},
			{ID: StatisticTypeMonthlyUsage},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []ResponseDataItem{{Label: "canceled", Value: 1}}, res.DataItems[StatisticTypeSubscriptionStatusCount])
	// usage has no provider column
	assert.Nil(t, res.DataItems[StatisticTypeMonthlyUsage])

	_, err = svc.GetStatistics(context.Background(), &Request{
		Filters:   []*types.CommonFilter{{Field: "raw_body", Operator: types.CommonFilterOperatorEq, Values: []any{"x"}}},
		DataItems: []*DataItem{{ID: StatisticTypeWebhookDeliveries}},
	})
	assert.Error(t, err)

	_, err = svc.GetStatistics(context.Background(), &Request{DataItems: []*DataItem{{ID: "nope"}}})
	assert.Error(t, err)
}
