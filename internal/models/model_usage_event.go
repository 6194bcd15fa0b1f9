package models

import (
	"time"

	"github.com/fatflowers/billing/pkg/types"
)

// UsageEvent is an append-only consumption fact. Rows are never updated or deleted.
type UsageEvent struct {
	ID           string             `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID       string             `gorm:"column:user_id;type:varchar(64);not null;index:idx_usage_events_user_created,priority:1" json:"user_id"`
	ResourceType types.ResourceType `gorm:"column:resource_type;type:varchar(16);not null" json:"resource_type"`
	Quantity     int64              `gorm:"column:quantity;not null" json:"quantity"`
	CreatedAt    time.Time          `gorm:"index:idx_usage_events_user_created,priority:2" json:"created_at"`
}

func (UsageEvent) TableName() string { return "usage_events" }
