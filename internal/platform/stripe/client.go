package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("stripe api key not configured")

// Client wraps the Stripe API for the calls this service makes.
type Client struct {
	api *client.API
}

// NewClient returns a client for apiKey. baseURL overrides the API endpoint
// (tests, stripe-mock); empty uses the Stripe default.
func NewClient(apiKey, baseURL string, log *zap.SugaredLogger) *Client {
	if apiKey == "" {
		return &Client{}
	}
	cfg := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 10 * time.Second},
		MaxNetworkRetries: stripego.Int64(1),
	}
	if log != nil {
		cfg.LeveledLogger = log
	}
	if baseURL != "" {
		cfg.URL = stripego.String(baseURL)
	}
	return &Client{api: client.New(apiKey, stripego.NewBackendsWithConfig(cfg))}
}

// GetSubscription fetches the current state of a subscription with its items' prices.
func (c *Client) GetSubscription(ctx context.Context, id string) (*stripego.Subscription, error) {
	if c == nil || c.api == nil {
		return nil, ErrNotConfigured
	}
	params := &stripego.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription %s: %w", id, err)
	}
	return sub, nil
}
