package paddle

import (
	"context"
	"errors"
	"fmt"
	"time"

	paddlesdk "github.com/PaddleHQ/paddle-go-sdk/v3"
)

var ErrNotConfigured = errors.New("paddle api key not configured")

// Client wraps the Paddle Billing SDK for the calls this service makes.
type Client struct {
	sdk *paddlesdk.SDK
}

// NewClient returns a client for apiKey. baseURL overrides the API endpoint
// (sandbox, tests); empty uses production.
func NewClient(apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		return &Client{}, nil
	}
	opts := []paddlesdk.Option{}
	if baseURL != "" {
		opts = append(opts, paddlesdk.WithBaseURL(baseURL))
	}
	sdk, err := paddlesdk.New(apiKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("paddle: new sdk: %w", err)
	}
	return &Client{sdk: sdk}, nil
}

// GetSubscription fetches a subscription by id.
func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	if c == nil || c.sdk == nil {
		return nil, ErrNotConfigured
	}
	sub, err := c.sdk.GetSubscription(ctx, &paddlesdk.GetSubscriptionRequest{SubscriptionID: id})
	if err != nil {
		return nil, fmt.Errorf("paddle: get subscription %s: %w", id, err)
	}
	return fromSDK(sub), nil
}

func fromSDK(s *paddlesdk.Subscription) *Subscription {
	out := &Subscription{
		ID:         s.ID,
		Status:     string(s.Status),
		CustomerID: s.CustomerID,
		CustomData: map[string]any(s.CustomData),
		UpdatedAt:  parseTime(s.UpdatedAt),
	}
	for _, item := range s.Items {
		out.Items = append(out.Items, SubscriptionItem{
			Status:   string(item.Status),
			Quantity: int(item.Quantity),
			Price:    Price{ID: item.Price.ID, ProductID: item.Price.ProductID},
		})
	}
	if p := s.CurrentBillingPeriod; p != nil {
		out.CurrentBillingPeriod = &TimePeriod{StartsAt: parseTime(p.StartsAt), EndsAt: parseTime(p.EndsAt)}
	}
	if sc := s.ScheduledChange; sc != nil {
		out.ScheduledChange = &ScheduledChange{Action: string(sc.Action), EffectiveAt: parseTime(sc.EffectiveAt)}
	}
	return out
}

// parseTime reads Paddle's RFC 3339 timestamps; anything else is zero.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
