package dodo

import (
	"encoding/json"
	"time"
)

// Event is the Dodo Payments webhook envelope. The delivery id travels in the
// webhook-id header, not in the body.
type Event struct {
	BusinessID string          `json:"business_id"`
	Type       string          `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

type Customer struct {
	CustomerID string `json:"customer_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
}

type Subscription struct {
	SubscriptionID          string            `json:"subscription_id"`
	Status                  string            `json:"status"`
	ProductID               string            `json:"product_id"`
	Quantity                int               `json:"quantity"`
	Customer                Customer          `json:"customer"`
	Metadata                map[string]string `json:"metadata"`
	PreviousBillingDate     *time.Time        `json:"previous_billing_date"`
	NextBillingDate         *time.Time        `json:"next_billing_date"`
	CancelAtNextBillingDate bool              `json:"cancel_at_next_billing_date"`
	CreatedAt               time.Time         `json:"created_at"`
}

type ProductCartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Payment is the payload of payment.* events.
type Payment struct {
	PaymentID      string            `json:"payment_id"`
	Status         string            `json:"status"`
	SubscriptionID *string           `json:"subscription_id"`
	Customer       Customer          `json:"customer"`
	Metadata       map[string]string `json:"metadata"`
	ProductCart    []ProductCartItem `json:"product_cart"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (p *Payment) ProductID() string {
	if p == nil || len(p.ProductCart) == 0 {
		return ""
	}
	return p.ProductCart[0].ProductID
}
