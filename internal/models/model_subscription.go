package models

import (
	"time"

	"github.com/fatflowers/billing/pkg/types"
)

// Subscription is the reconciled state of one provider subscription.
// A user may own rows from several providers; the canonical one is the most
// recently updated.
type Subscription struct {
	ID       string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID   string                `gorm:"column:user_id;type:varchar(64);not null;index:idx_subscriptions_user_updated,priority:1" json:"user_id"`
	Provider types.PaymentProvider `gorm:"column:provider;type:varchar(16);not null;uniqueIndex:uniq_subscriptions_provider_external,priority:1" json:"provider"`

	ExternalCustomerID       string `gorm:"column:external_customer_id;type:varchar(128)" json:"external_customer_id"`
	ExternalSubscriptionID   string `gorm:"column:external_subscription_id;type:varchar(128);not null;uniqueIndex:uniq_subscriptions_provider_external,priority:2" json:"external_subscription_id"`
	ExternalPriceOrProductID string `gorm:"column:external_price_or_product_id;type:varchar(128)" json:"external_price_or_product_id"`

	Plan               types.Plan               `gorm:"column:plan;type:varchar(16);not null" json:"plan"`
	Status             types.SubscriptionStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	CurrentPeriodStart *time.Time               `gorm:"column:current_period_start;default:null" json:"current_period_start"`
	CurrentPeriodEnd   *time.Time               `gorm:"column:current_period_end;default:null" json:"current_period_end"`
	CancelAtPeriodEnd  bool                     `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`

	// LastEventID and LastEventAt identify the provider event that produced the current state.
	LastEventID string     `gorm:"column:last_event_id;type:varchar(255)" json:"last_event_id"`
	LastEventAt *time.Time `gorm:"column:last_event_at;default:null" json:"last_event_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index:idx_subscriptions_user_updated,priority:2,sort:desc" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Entitling reports whether the row grants paid access.
func (s *Subscription) Entitling() bool {
	return s != nil && s.Status.Entitling()
}
