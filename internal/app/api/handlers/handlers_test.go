package handlers

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"

	mw "github.com/fatflowers/billing/internal/app/api/middleware"
	"github.com/fatflowers/billing/internal/app/service/entitlement"
	"github.com/fatflowers/billing/internal/app/service/generation"
	"github.com/fatflowers/billing/internal/app/service/provider"
	"github.com/fatflowers/billing/internal/app/service/quota"
	"github.com/fatflowers/billing/internal/app/service/statistics"
	subsvc "github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/usage"
	wh "github.com/fatflowers/billing/internal/app/service/webhook_handler"
	webhooklog "github.com/fatflowers/billing/internal/app/service/webhook_log"
	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/internal/platform/db/dbtest"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

const (
	stripeSecret = "whsec_routes"
	jwtSecret    = "session-secret"
	adminToken   = "admin-secret"
)

type testEnv struct {
	r   *gin.Engine
	db  *gorm.DB
	cfg *config.Config
}

func one(n int64) *int64 { return &n }

func newTestEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()
	db := dbtest.New(t)
	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: jwtSecret, AdminToken: adminToken},
		Providers: config.ProvidersConfig{
			Stripe:             config.ProviderConfig{WebhookSecret: stripeSecret},
			SignatureTolerance: 5 * time.Minute,
		},
		PriceMappings: []*types.PriceMapping{
			{ProviderID: types.PaymentProviderStripe, PriceID: "price_pro", Plan: types.PlanPro},
		},
		// a tiny pro cap keeps the 429 path short
		PlanLimits: map[types.Plan]types.PlanLimit{
			types.PlanPro: {DiscoveriesPerMonth: one(2), CreativesPerMonth: one(2)},
		},
	}

	registry := provider.NewRegistry(provider.NewStripe(cfg, nil, log))
	subs := subsvc.NewService(db, registry, log)
	audit := webhooklog.New(db, log)
	resolver := entitlement.NewResolver(subs, nil, log)
	ledger := usage.NewLedger(db, nil, cfg, log)
	gate := quota.NewGate(resolver, ledger, cfg, nil, log)

	r := gin.New()
	r.Use(mw.TraceMiddleware())
	RegisterHealthRoutes(r, db)
	RegisterWebhookRoutes(r.Group("/webhooks"), wh.NewWebhookHandler(registry, audit, subs, nil, log), log)
	apiV1 := r.Group("/api/v1", mw.RequestLoggerMiddleware(log))
	RegisterBillingRoutes(apiV1.Group("", mw.AuthMiddleware(mw.NewSessionVerifier(cfg), log)), gate, generation.NewEchoRunner(log), log)
	RegisterAdminRoutes(apiV1.Group("/admin", mw.AdminTokenMiddleware(cfg)), AdminDeps{
		Webhooks: audit,
		Subs:     subs,
		Resolver: resolver,
		Ledger:   ledger,
		Stats:    statistics.New(db),
	})
	return &testEnv{r: r, db: db, cfg: cfg}
}

func token(t *testing.T, sub string) string {
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, user string, body []byte, header http.Header) (int, envelope) {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (e *testEnv) webhook(t *testing.T, body string) (int, wh.Result) {
	ts := time.Now()
	sig := webhook.ComputeSignature(ts, []byte(body), stripeSecret)
	h := http.Header{}
	h.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig)))
	code, env := e.do(t, http.MethodPost, "/webhooks/stripe", "", []byte(body), h)
	var res wh.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return code, res
}

func access(t *testing.T, e *testEnv, user string) entitlement.Decision {
	code, env := e.do(t, http.MethodGet, "/api/v1/billing/access", user, nil, nil)
	require.Equal(t, http.StatusOK, code)
	var d entitlement.Decision
	require.NoError(t, json.Unmarshal(env.Data, &d))
	return d
}

const (
	checkoutEvent = `{"id":"evt_1","type":"checkout.session.completed","created":1714557600,
"data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"U1","customer":"cus_1","subscription":"sub_123","metadata":{"price_id":"price_pro"}}}}`
	deletedEvent = `{"id":"evt_2","type":"customer.subscription.deleted","created":1714561200,
"data":{"object":{"id":"sub_123","object":"subscription","status":"canceled","customer":"cus_1",
"items":{"object":"list","data":[{"id":"si_1","price":{"id":"price_pro"}}]}}}}`
)

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	code, _ := e.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = e.do(t, http.MethodGet, "/readyz", "", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestBilling_RequiresSession(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/v1/billing/access", "/api/v1/billing/usage"} {
		code, env := e.do(t, http.MethodGet, path, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, code, path)
		assert.JSONEq(t, `{"reason":"unauthenticated"}`, string(env.Data))
	}
	code, _ := e.do(t, http.MethodPost, "/api/v1/discovery", "", []byte(`{"prompt":"x"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestGeneration_WithoutSubscriptionIs402(t *testing.T) {
	e := newTestEnv(t)

	d := access(t, e, "U9")
	assert.False(t, d.OK)
	assert.Equal(t, types.AccessReasonNotSubscribed, d.Reason)

	code, env := e.do(t, http.MethodPost, "/api/v1/discovery", "U9", []byte(`{"prompt":"x"}`), nil)
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.JSONEq(t, `{"reason":"not_subscribed","plan":"free"}`, string(env.Data))
}

func TestCheckoutThenCancel(t *testing.T) {
	e := newTestEnv(t)

	code, res := e.webhook(t, checkoutEvent)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, res.Verified)
	assert.Equal(t, "applied", res.Outcome)

	d := access(t, e, "U1")
	assert.True(t, d.OK)
	assert.Equal(t, types.PlanPro, d.Plan)
	assert.Equal(t, types.SubscriptionStatusActive, d.Status)

	code, env := e.do(t, http.MethodPost, "/api/v1/discovery", "U1", []byte(`{"prompt":"shoes"}`), nil)
	require.Equal(t, http.StatusOK, code)
	var out generation.Result
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "discovery: shoes", out.Output)

	code, _ = e.do(t, http.MethodPost, "/api/v1/discovery", "U1", []byte(`{"prompt":"hats"}`), nil)
	require.Equal(t, http.StatusOK, code)

	// cap of 2 reached
	code, env = e.do(t, http.MethodPost, "/api/v1/discovery", "U1", []byte(`{"prompt":"socks"}`), nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.JSONEq(t, `{"plan":"pro","limit":2,"used":2,"remaining":0}`, string(env.Data))

	code, env = e.do(t, http.MethodGet, "/api/v1/billing/usage", "U1", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var sum quota.UsageSummary
	require.NoError(t, json.Unmarshal(env.Data, &sum))
	assert.Equal(t, int64(2), sum.Resources[0].Used)
	assert.Equal(t, int64(0), sum.Resources[1].Used)

	code, res = e.webhook(t, deletedEvent)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "applied", res.Outcome)

	d = access(t, e, "U1")
	assert.Equal(t, entitlement.Decision{OK: false, Reason: types.AccessReasonInactive, Status: types.SubscriptionStatusCanceled, Plan: types.PlanPro}, d)

	code, env = e.do(t, http.MethodPost, "/api/v1/creative", "U1", []byte(`{"prompt":"x"}`), nil)
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.JSONEq(t, `{"reason":"inactive","status":"canceled","plan":"pro"}`, string(env.Data))
}

func TestGeneration_FailureRecordsNoUsage(t *testing.T) {
	e := newTestEnv(t)
	_, _ = e.webhook(t, checkoutEvent)

	code, _ := e.do(t, http.MethodPost, "/api/v1/creative", "U1", []byte(`{"prompt":"   "}`), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var n int64
	require.NoError(t, e.db.Model(&models.UsageEvent{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestWebhook_MissingSignature(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodPost, "/webhooks/stripe", "", []byte(checkoutEvent), nil)
	assert.Equal(t, http.StatusBadRequest, code)
	var res wh.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Verified)
	assert.Equal(t, provider.VerifyReasonMissingSignature, res.VerifyReason)

	var rec models.WebhookEvent
	require.NoError(t, e.db.First(&rec).Error)
	assert.False(t, rec.Verified)
	var n int64
	require.NoError(t, e.db.Model(&models.Subscription{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestWebhook_OversizedBodyIsAudited(t *testing.T) {
	e := newTestEnv(t)

	body := bytes.Repeat([]byte("a"), maxWebhookBody+10)
	code, env := e.do(t, http.MethodPost, "/webhooks/stripe", "", body, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	var res wh.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Verified)
	assert.Equal(t, provider.VerifyReasonBodyUnreadable, res.VerifyReason)

	var rows []models.WebhookEvent
	require.NoError(t, e.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Verified)
	assert.Equal(t, http.StatusBadRequest, rows[0].HTTPStatusReturned)
	assert.Equal(t, string(provider.VerifyReasonBodyUnreadable), rows[0].VerifyReason)
	require.NotNil(t, rows[0].ProcessError)
	assert.Contains(t, *rows[0].ProcessError, "body_read_failed")
}

func TestWebhook_UnconfiguredProvider(t *testing.T) {
	e := newTestEnv(t)
	code, _ := e.do(t, http.MethodPost, "/webhooks/paddle", "", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdmin(t *testing.T) {
	e := newTestEnv(t)
	_, _ = e.webhook(t, checkoutEvent)

	code, _ := e.do(t, http.MethodGet, "/api/v1/admin/users/U1/subscriptions", "", nil, nil)
	assert.Equal(t, http.StatusForbidden, code)

	admin := http.Header{"X-Admin-Token": {adminToken}}
	code, env := e.do(t, http.MethodGet, "/api/v1/admin/users/U1/subscriptions", "", nil, admin)
	require.Equal(t, http.StatusOK, code)
	var ub UserBilling
	require.NoError(t, json.Unmarshal(env.Data, &ub))
	assert.True(t, ub.Access.OK)
	require.Len(t, ub.Subscriptions, 1)
	assert.Equal(t, "sub_123", ub.Subscriptions[0].ExternalSubscriptionID)

	code, env = e.do(t, http.MethodGet, "/api/v1/admin/subscriptions/"+ub.Subscriptions[0].ID+"/logs", "", nil, admin)
	require.Equal(t, http.StatusOK, code)
	var logs []*models.SubscriptionLog
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	assert.Len(t, logs, 1)

	scan := []byte(`{"filters":[{"field":"provider","operator":"eq","values":["stripe"]}],"size":10}`)
	code, env = e.do(t, http.MethodPost, "/api/v1/admin/webhook_events", "", scan, admin)
	require.Equal(t, http.StatusOK, code)
	var page webhooklog.ScanResponse
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)

	code, env = e.do(t, http.MethodPost, "/api/v1/admin/reconcile", "", []byte(`{"provider":"stripe","external_subscription_id":"sub_123"}`), admin)
	require.Equal(t, http.StatusOK, code)
	assert.NotZero(t, env.Code)
}
