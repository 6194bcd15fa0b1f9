package models

import (
	"time"

	"github.com/fatflowers/billing/pkg/types"
	"gorm.io/datatypes"
)

// WebhookEvent is the audit record of one inbound webhook delivery attempt.
// It is written for every call, whatever the outcome.
type WebhookEvent struct {
	ID       string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Provider types.PaymentProvider `gorm:"column:provider;type:varchar(16);not null;index:idx_webhook_events_provider_created,priority:1;index:idx_webhook_events_provider_event,priority:1" json:"provider"`
	TraceID  string                `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`

	EventType string `gorm:"column:event_type;type:varchar(128)" json:"event_type"`
	EventID   string `gorm:"column:event_id;type:varchar(255);index:idx_webhook_events_provider_event,priority:2" json:"event_id"`

	SignaturePresent bool   `gorm:"column:signature_present;not null;default:false" json:"signature_present"`
	Verified         bool   `gorm:"column:verified;not null;default:false" json:"verified"`
	VerifyReason     string `gorm:"column:verify_reason;type:varchar(64)" json:"verify_reason"`

	HTTPStatusReturned int     `gorm:"column:http_status_returned" json:"http_status_returned"`
	ProcessError       *string `gorm:"column:process_error;type:text" json:"process_error"`
	// Applied is true when this delivery changed a subscription row.
	Applied       bool    `gorm:"column:applied;not null;default:false" json:"applied"`
	RelatedUserID *string `gorm:"column:related_user_id;type:varchar(64)" json:"related_user_id"`

	RawBody datatypes.JSON `gorm:"column:raw_body;type:jsonb" json:"raw_body"`

	CreatedAt time.Time `gorm:"index:idx_webhook_events_provider_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
