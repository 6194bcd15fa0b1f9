package paddle

import (
	"encoding/json"
	"time"
)

// Event is the Paddle Billing notification envelope.
type Event struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	NotificationID string          `json:"notification_id"`
	Data           json.RawMessage `json:"data"`
}

type Price struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
}

type SubscriptionItem struct {
	Status   string `json:"status"`
	Quantity int    `json:"quantity"`
	Price    Price  `json:"price"`
}

type TimePeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type ScheduledChange struct {
	Action      string    `json:"action"`
	EffectiveAt time.Time `json:"effective_at"`
}

type Subscription struct {
	ID                   string             `json:"id"`
	Status               string             `json:"status"`
	CustomerID           string             `json:"customer_id"`
	Items                []SubscriptionItem `json:"items"`
	CurrentBillingPeriod *TimePeriod        `json:"current_billing_period"`
	ScheduledChange      *ScheduledChange   `json:"scheduled_change"`
	CustomData           map[string]any     `json:"custom_data"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// PriceID returns the first item's price id.
func (s *Subscription) PriceID() string {
	if s == nil || len(s.Items) == 0 {
		return ""
	}
	return s.Items[0].Price.ID
}

// CancelScheduled reports whether the subscription cancels at the end of the period.
func (s *Subscription) CancelScheduled() bool {
	return s != nil && s.ScheduledChange != nil && s.ScheduledChange.Action == "cancel"
}

type TransactionItem struct {
	Price    Price `json:"price"`
	Quantity int   `json:"quantity"`
}

// Transaction is the payload of transaction.* events; transaction.completed
// marks a finished checkout.
type Transaction struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	CustomerID     string            `json:"customer_id"`
	SubscriptionID string            `json:"subscription_id"`
	Items          []TransactionItem `json:"items"`
	CustomData     map[string]any    `json:"custom_data"`
	BillingPeriod  *TimePeriod       `json:"billing_period"`
}

func (t *Transaction) PriceID() string {
	if t == nil || len(t.Items) == 0 {
		return ""
	}
	return t.Items[0].Price.ID
}

// CustomString reads a string value from Paddle custom_data.
func CustomString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
