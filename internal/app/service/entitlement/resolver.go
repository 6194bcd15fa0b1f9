package entitlement

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/subscription"
	models "github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/types"
)

// Decision is the access verdict for one user at one instant.
type Decision struct {
	OK     bool                     `json:"ok"`
	Plan   types.Plan               `json:"plan"`
	Status types.SubscriptionStatus `json:"status,omitempty"`
	Reason types.AccessReason       `json:"reason,omitempty"`

	Subscription *models.Subscription `json:"-"`
}

type subscriptionReader interface {
	GetCanonical(ctx context.Context, userID string) (*models.Subscription, error)
}

type Resolver struct {
	subs    subscriptionReader
	metrics *metrics.Billing
	log     *zap.SugaredLogger
}

func NewResolver(subs *subscription.Service, m *metrics.Billing, log *zap.SugaredLogger) *Resolver {
	return &Resolver{subs: subs, metrics: m, log: log}
}

// Resolve reads the canonical subscription on every call. Any store failure
// denies access.
func (r *Resolver) Resolve(ctx context.Context, userID string) Decision {
	d := r.resolve(ctx, userID)
	reason := string(d.Reason)
	if d.OK {
		reason = "ok"
	}
	r.metrics.EntitlementDecision(reason)
	return d
}

func (r *Resolver) resolve(ctx context.Context, userID string) Decision {
	if userID == "" {
		return Decision{Plan: types.PlanFree, Reason: types.AccessReasonUnauthenticated}
	}
	sub, err := r.subs.GetCanonical(ctx, userID)
	if err != nil {
		logctx.FromCtx(ctx, r.log).Errorw("entitlement_lookup_failed", "user_id", userID, "error", err)
		return Decision{Plan: types.PlanFree, Reason: types.AccessReasonInactive}
	}
	if sub == nil {
		return Decision{Plan: types.PlanFree, Reason: types.AccessReasonNotSubscribed}
	}
	d := Decision{Plan: sub.Plan, Status: sub.Status, Subscription: sub}
	if sub.Entitling() {
		d.OK = true
	} else {
		d.Reason = types.AccessReasonInactive
	}
	return d
}

var Module = fx.Options(
	fx.Provide(NewResolver),
)
