package quota

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fatflowers/billing/internal/app/service/entitlement"
	"github.com/fatflowers/billing/internal/app/service/usage"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/types"
)

var ErrInvalidRequest = errors.New("invalid quota request")

// Decision is the outcome of a quota check. Limit and Remaining are nil for
// unlimited resources.
type Decision struct {
	OK        bool               `json:"ok"`
	Plan      types.Plan         `json:"plan"`
	Resource  types.ResourceType `json:"resource"`
	Requested int64              `json:"requested"`
	Limit     *int64             `json:"limit"`
	Used      int64              `json:"used"`
	Remaining *int64             `json:"remaining"`
}

type accessResolver interface {
	Resolve(ctx context.Context, userID string) entitlement.Decision
}

type usageLedger interface {
	Record(ctx context.Context, userID string, resource types.ResourceType, quantity int64) error
	MonthlyUsage(ctx context.Context, userID string) (types.MonthlyUsage, error)
}

// Gate admits billable operations before they run and records consumption
// after they succeed. It takes no locks: two concurrent requests may both pass
// and overshoot a cap by at most their combined quantity.
type Gate struct {
	resolver accessResolver
	ledger   usageLedger
	cfg      *config.Config
	metrics  *metrics.Billing
	log      *zap.SugaredLogger
}

func NewGate(resolver *entitlement.Resolver, ledger *usage.Ledger, cfg *config.Config, m *metrics.Billing, log *zap.SugaredLogger) *Gate {
	return &Gate{resolver: resolver, ledger: ledger, cfg: cfg, metrics: m, log: log}
}

// GetBillingAccess reports whether the user currently has paid access.
func (g *Gate) GetBillingAccess(ctx context.Context, userID string) entitlement.Decision {
	return g.resolver.Resolve(ctx, userID)
}

// EnsureWithinLimit admits the request iff used + n stays within the plan's
// monthly cap. The plan lookup and the usage read run concurrently.
func (g *Gate) EnsureWithinLimit(ctx context.Context, userID string, resource types.ResourceType, n int64) (*Decision, error) {
	if userID == "" || !resource.Valid() || n <= 0 {
		return nil, fmt.Errorf("%w: user=%q resource=%q n=%d", ErrInvalidRequest, userID, resource, n)
	}

	var access entitlement.Decision
	var used types.MonthlyUsage
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		access = g.resolver.Resolve(egCtx, userID)
		return nil
	})
	eg.Go(func() error {
		var err error
		used, err = g.ledger.MonthlyUsage(egCtx, userID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	plan := access.Plan
	if plan == "" {
		plan = types.PlanFree
	}
	d := &Decision{
		Plan:      plan,
		Resource:  resource,
		Requested: n,
		Used:      used.Of(resource),
	}
	limit, capped := g.cfg.GetPlanLimit(plan).Limit(resource)
	if !capped {
		d.OK = true
	} else {
		remaining := limit - d.Used
		if remaining < 0 {
			remaining = 0
		}
		d.Limit = &limit
		d.Remaining = &remaining
		d.OK = d.Used+n <= limit
	}

	g.metrics.QuotaDecision(string(resource), string(plan), d.OK)
	if !d.OK {
		logctx.FromCtx(ctx, g.log).Infow("quota_exceeded",
			"user_id", userID,
			"resource", resource,
			"plan", plan,
			"used", d.Used,
			"requested", n,
			"limit", limit,
		)
	}
	return d, nil
}

// RecordUsage appends consumption after a successful operation. Failures are
// logged as anomalies and never surface to the caller.
func (g *Gate) RecordUsage(ctx context.Context, userID string, resource types.ResourceType, n int64) {
	if err := g.ledger.Record(ctx, userID, resource, n); err != nil {
		g.metrics.UsageRecordFailure(string(resource))
		logctx.FromCtx(ctx, g.log).Errorw("usage_record_failed",
			"user_id", userID,
			"resource", resource,
			"quantity", n,
			"error", err,
		)
	}
}

// ResourceUsage is one line of the usage summary.
type ResourceUsage struct {
	Resource  types.ResourceType `json:"resource"`
	Used      int64              `json:"used"`
	Limit     *int64             `json:"limit"`
	Remaining *int64             `json:"remaining"`
}

type UsageSummary struct {
	Plan      types.Plan       `json:"plan"`
	Resources []*ResourceUsage `json:"resources"`
}

// Usage reports this month's consumption against the user's plan limits.
func (g *Gate) Usage(ctx context.Context, userID string) (*UsageSummary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user", ErrInvalidRequest)
	}
	used, err := g.ledger.MonthlyUsage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	plan := g.resolver.Resolve(ctx, userID).Plan
	if plan == "" {
		plan = types.PlanFree
	}
	limits := g.cfg.GetPlanLimit(plan)
	out := &UsageSummary{Plan: plan}
	for _, r := range types.ResourceTypes {
		line := &ResourceUsage{Resource: r, Used: used.Of(r)}
		if limit, capped := limits.Limit(r); capped {
			remaining := max(limit-line.Used, 0)
			line.Limit = &limit
			line.Remaining = &remaining
		}
		out.Resources = append(out.Resources, line)
	}
	return out, nil
}

var Module = fx.Options(
	fx.Provide(NewGate),
)
