package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/billing/pkg/types"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)
}

func TestNew_FileAndEnv(t *testing.T) {
	writeConfig(t, `
env: prod
providers:
  stripe:
    webhook_secret: whsec_file
  signature_tolerance: 2m
price_mappings:
  - provider_id: stripe
    price_id: price_pro
    plan: pro
  - provider_id: dodo
    price_id: pdt_agency
    plan: agency
plan_limits:
  pro:
    discoveries_per_month: 42
    creatives_per_month: 84
`)
	t.Setenv("APP_SERVER_PORT", "9999")
	t.Setenv("APP_AUTH_ADMIN_TOKEN", "from-env")

	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, EnvProd, c.Env)
	assert.Equal(t, 9999, c.Server.Port)
	assert.Equal(t, "from-env", c.Auth.AdminToken)
	assert.Equal(t, "whsec_file", c.Provider(types.PaymentProviderStripe).WebhookSecret)
	assert.Equal(t, 2*time.Minute, c.Providers.SignatureTolerance)
	assert.Equal(t, "https://api.paddle.com", c.Provider(types.PaymentProviderPaddle).APIBaseURL)
	assert.Equal(t, 10*time.Minute, c.Redis.UsageTTL)
	assert.Equal(t, "@every 15m", c.Jobs.AuditReportSpec)

	plan, ok := c.GetPlanByPriceID(types.PaymentProviderDodo, "pdt_agency")
	assert.True(t, ok)
	assert.Equal(t, types.PlanAgency, plan)

	limit, capped := c.GetPlanLimit(types.PlanPro).Limit(types.ResourceTypeDiscovery)
	assert.True(t, capped)
	assert.Equal(t, int64(42), limit)
}

func TestNew_RejectsBadMappings(t *testing.T) {
	tests := map[string]string{
		"provider": "price_mappings:\n  - {provider_id: apple, price_id: x, plan: pro}\n",
		"plan":     "price_mappings:\n  - {provider_id: stripe, price_id: x, plan: gold}\n",
		"limits":   "plan_limits:\n  gold:\n    discoveries_per_month: 1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			writeConfig(t, body)
			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestGetPlanByPriceID(t *testing.T) {
	c := &Config{PriceMappings: []*types.PriceMapping{
		nil,
		{ProviderID: types.PaymentProviderStripe, PriceID: "price_a", Plan: types.PlanStarter},
	}}

	plan, ok := c.GetPlanByPriceID(types.PaymentProviderStripe, "price_a")
	assert.True(t, ok)
	assert.Equal(t, types.PlanStarter, plan)

	// same id under another provider does not match
	plan, ok = c.GetPlanByPriceID(types.PaymentProviderPaddle, "price_a")
	assert.False(t, ok)
	assert.Equal(t, types.PlanFree, plan)

	_, ok = c.GetPlanByPriceID(types.PaymentProviderStripe, "")
	assert.False(t, ok)
}

func TestGetPlanLimit_Defaults(t *testing.T) {
	c := &Config{}
	tests := []struct {
		plan     types.Plan
		resource types.ResourceType
		want     int64
		capped   bool
	}{
		{types.PlanFree, types.ResourceTypeDiscovery, 10, true},
		{types.PlanFree, types.ResourceTypeCreative, 20, true},
		{types.PlanStarter, types.ResourceTypeDiscovery, 100, true},
		{types.PlanPro, types.ResourceTypeCreative, 1000, true},
		{types.PlanAgency, types.ResourceTypeDiscovery, 0, false},
		{"unknown", types.ResourceTypeDiscovery, 10, true},
	}
	for _, tt := range tests {
		got, capped := c.GetPlanLimit(tt.plan).Limit(tt.resource)
		assert.Equal(t, tt.capped, capped, tt.plan)
		assert.Equal(t, tt.want, got, tt.plan)
	}
}

func TestNew_ConfigFile(t *testing.T) {
	t.Run("broken file is an error", func(t *testing.T) {
		writeConfig(t, "server: [port: 1\n")
		_, err := New()
		assert.Error(t, err)
	})
	t.Run("no file falls back to defaults", func(t *testing.T) {
		t.Setenv("APP_CONFIG_FILE", "")
		t.Setenv("APP_CONFIG_NAME", "billing-config-absent")
		c, err := New()
		require.NoError(t, err)
		assert.Equal(t, 8888, c.Server.Port)
	})
}
