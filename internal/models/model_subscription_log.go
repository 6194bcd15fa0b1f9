package models

import (
	"time"

	"github.com/fatflowers/billing/pkg/types"
	"gorm.io/datatypes"
)

// SubscriptionLog records changes to subscriptions.
// Use case: troubleshooting billing disputes.
type SubscriptionLog struct {
	ID             string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionID string                `gorm:"column:subscription_id;type:uuid;index:idx_subscription_logs_subscription,priority:1;not null" json:"subscription_id"`
	UserID         string                `gorm:"column:user_id;type:varchar(64);not null" json:"user_id"`
	Provider       types.PaymentProvider `gorm:"column:provider;type:varchar(16);not null" json:"provider"`
	EventID        string                `gorm:"column:event_id;type:varchar(255)" json:"event_id"`
	// Reason is the change reason.
	Reason types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// Before stores subscription data before the change in JSON format.
	Before datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	// After stores subscription data after the change in JSON format.
	After     datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	CreatedAt time.Time                         `gorm:"index:idx_subscription_logs_subscription,priority:2" json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_logs"
}
