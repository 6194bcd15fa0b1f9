package dodo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dodopayments/dodopayments-go"
	"github.com/dodopayments/dodopayments-go/option"
)

var ErrNotConfigured = errors.New("dodo api key not configured")

// Client wraps the Dodo Payments SDK.
type Client struct {
	api *dodopayments.Client
}

func NewClient(apiKey, baseURL string) *Client {
	if apiKey == "" {
		return &Client{}
	}
	opts := []option.RequestOption{
		option.WithBearerToken(apiKey),
		option.WithRequestTimeout(10 * time.Second),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{api: dodopayments.NewClient(opts...)}
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	if c == nil || c.api == nil {
		return nil, ErrNotConfigured
	}
	sub, err := c.api.Subscriptions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("dodo: get subscription %s: %w", id, err)
	}
	return &Subscription{
		SubscriptionID:          sub.SubscriptionID,
		Status:                  string(sub.Status),
		ProductID:               sub.ProductID,
		Quantity:                int(sub.Quantity),
		Customer:                Customer{CustomerID: sub.Customer.CustomerID, Email: sub.Customer.Email, Name: sub.Customer.Name},
		Metadata:                sub.Metadata,
		PreviousBillingDate:     nonZero(sub.PreviousBillingDate),
		NextBillingDate:         nonZero(sub.NextBillingDate),
		CancelAtNextBillingDate: sub.CancelAtNextBillingDate,
		CreatedAt:               sub.CreatedAt,
	}, nil
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
