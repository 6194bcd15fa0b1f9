package statistics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

type StatisticType string

const (
	// Subscriptions
	StatisticTypeSubscriptionStatusCount StatisticType = "subscription_status_count"
	StatisticTypeEntitledByPlan          StatisticType = "entitled_by_plan"
	StatisticTypeDailyNewSubscriptions   StatisticType = "daily_new_subscriptions"

	// Webhook deliveries
	StatisticTypeWebhookDeliveries      StatisticType = "webhook_deliveries"
	StatisticTypeDailyWebhookDeliveries StatisticType = "daily_webhook_deliveries"

	// Usage
	StatisticTypeMonthlyUsage StatisticType = "monthly_usage"
)

// Filter fields understood per statistic. A filter on a field not listed for a
// statistic yields a nil series for that statistic.
var validFilters = map[string][]StatisticType{
	"provider":   {StatisticTypeSubscriptionStatusCount, StatisticTypeEntitledByPlan, StatisticTypeDailyNewSubscriptions, StatisticTypeWebhookDeliveries, StatisticTypeDailyWebhookDeliveries},
	"plan":       {StatisticTypeSubscriptionStatusCount, StatisticTypeEntitledByPlan, StatisticTypeDailyNewSubscriptions},
	"created_at": {StatisticTypeDailyNewSubscriptions, StatisticTypeWebhookDeliveries, StatisticTypeDailyWebhookDeliveries},
	"user_id":    {StatisticTypeMonthlyUsage},
}

type DataItem struct {
	ID StatisticType `json:"id"`
}

type Request struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*DataItem           `json:"data_items"`
}

// applicable reports whether every filter can be applied to st.
func (r *Request) applicable(st StatisticType) bool {
	for _, f := range r.Filters {
		if !lo.Contains(validFilters[f.Field], st) {
			return false
		}
	}
	return true
}

func (r *Request) where() clause.Where {
	return clause.Where{Exprs: []clause.Expression{types.FiltersAnd(r.Filters)}}
}

type ResponseDataItem struct {
	Date   string `json:"date,omitempty"`
	Label  string `json:"label,omitempty"`
	Value  int64  `json:"value"`
	Value2 int64  `json:"value2,omitempty"`
	Value3 int64  `json:"value3,omitempty"`
}

type Response struct {
	DataItems map[StatisticType][]ResponseDataItem `json:"data_items"`
}

type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Service { return &Service{db: db, now: time.Now} }

func (s *Service) subscriptionStatusCount(ctx context.Context, r *Request) ([]ResponseDataItem, error) {
	var results []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("status AS label, COUNT(*) AS value").
		Where(r.where()).
		Group("status").
		Order("status").
		Scan(&results).Error
	return results, err
}

func (s *Service) entitledByPlan(ctx context.Context, r *Request) ([]ResponseDataItem, error) {
	var results []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("plan AS label, COUNT(DISTINCT user_id) AS value").
		Where(r.where()).
		Where("status IN ?", []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrialing}).
		Group("plan").
		Order("plan").
		Scan(&results).Error
	return results, err
}

func (s *Service) dailyNewSubscriptions(ctx context.Context, r *Request) ([]ResponseDataItem, error) {
	var results []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("CAST(DATE(created_at) AS TEXT) AS date, COUNT(*) AS value").
		Where(r.where()).
		Group("CAST(DATE(created_at) AS TEXT)").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true}).
		Scan(&results).Error
	return results, err
}

// webhookDeliveries reports per provider: Value total, Value2 unverified, Value3 failed.
func (s *Service) webhookDeliveries(ctx context.Context, r *Request) ([]ResponseDataItem, error) {
	var results []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Select("provider AS label, COUNT(*) AS value, "+
			"SUM(CASE WHEN verified = ? THEN 1 ELSE 0 END) AS value2, "+
			"SUM(CASE WHEN process_error IS NOT NULL THEN 1 ELSE 0 END) AS value3", false).
		Where(r.where()).
		Group("provider").
		Order("provider").
		Scan(&results).Error
	return results, err
}

func (s *Service) dailyWebhookDeliveries(ctx context.Context, r *Request) ([]ResponseDataItem, error) {
	var results []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Select("CAST(DATE(created_at) AS TEXT) AS date, provider AS label, COUNT(*) AS value").
		Where(r.where()).
		Group("CAST(DATE(created_at) AS TEXT)").
		Group("provider").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true}).
		Order("label").
		Scan(&results).Error
	return results, err
}

// monthlyUsage sums usage in the current UTC month per resource type.
func (s *Service) monthlyUsage(ctx context.Context, r *Request) ([]ResponseDataItem, error) {
	now := s.now()
	var results []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.UsageEvent{}).
		Select("resource_type AS label, COALESCE(SUM(quantity), 0) AS value, COUNT(DISTINCT user_id) AS value2").
		Where(r.where()).
		Where("created_at >= ? AND created_at < ?", tool.StartOfMonthUTC(now), tool.StartOfNextMonthUTC(now)).
		Group("resource_type").
		Order("resource_type").
		Scan(&results).Error
	return results, err
}

func (s *Service) get(ctx context.Context, r *Request, id StatisticType) ([]ResponseDataItem, error) {
	switch id {
	case StatisticTypeSubscriptionStatusCount:
		return s.subscriptionStatusCount(ctx, r)
	case StatisticTypeEntitledByPlan:
		return s.entitledByPlan(ctx, r)
	case StatisticTypeDailyNewSubscriptions:
		return s.dailyNewSubscriptions(ctx, r)
	case StatisticTypeWebhookDeliveries:
		return s.webhookDeliveries(ctx, r)
	case StatisticTypeDailyWebhookDeliveries:
		return s.dailyWebhookDeliveries(ctx, r)
	case StatisticTypeMonthlyUsage:
		return s.monthlyUsage(ctx, r)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", id)
	}
}

// GetStatistics computes every requested data item concurrently.
func (s *Service) GetStatistics(ctx context.Context, r *Request) (*Response, error) {
	if r == nil {
		return nil, fmt.Errorf("nil request")
	}
	for _, f := range r.Filters {
		if f == nil || len(validFilters[f.Field]) == 0 {
			return nil, fmt.Errorf("filter field not allowed: %v", lo.FromPtr(f).Field)
		}
	}

	var mu sync.Mutex
	results := make(map[StatisticType][]ResponseDataItem, len(r.DataItems))
	eg, egCtx := errgroup.WithContext(ctx)
	for _, item := range r.DataItems {
		if item == nil {
			continue
		}
		id := item.ID
		eg.Go(func() error {
			var res []ResponseDataItem
			if r.applicable(id) {
				var err error
				if res, err = s.get(egCtx, r, id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &Response{DataItems: results}, nil
}
