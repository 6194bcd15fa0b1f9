package types

type PaymentProvider string

const (
	PaymentProviderStripe PaymentProvider = "stripe"
	PaymentProviderPaddle PaymentProvider = "paddle"
	PaymentProviderDodo   PaymentProvider = "dodo"
)

var PaymentProviders = []PaymentProvider{
	PaymentProviderStripe,
	PaymentProviderPaddle,
	PaymentProviderDodo,
}

func (p PaymentProvider) Valid() bool {
	switch p {
	case PaymentProviderStripe, PaymentProviderPaddle, PaymentProviderDodo:
		return true
	}
	return false
}

// PriceMapping binds a provider-native price or product id to a plan.
type PriceMapping struct {
	ProviderID PaymentProvider `json:"provider_id" mapstructure:"provider_id"`
	// PriceID is the Stripe price id, Paddle price id or Dodo product id.
	PriceID string `json:"price_id" mapstructure:"price_id"`
	Plan    Plan   `json:"plan" mapstructure:"plan"`
}
