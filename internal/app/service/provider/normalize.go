package provider

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

var validate = validator.New()

// transition says which canonical event a provider event type produces and,
// when Status is set, the status it writes regardless of the payload.
type transition struct {
	Event  types.BillingEventType
	Status types.SubscriptionStatus
}

// statusTable maps provider statuses to canonical ones. Statuses missing
// from a table are never guessed.
type statusTable map[string]types.SubscriptionStatus

func (t statusTable) resolve(raw string) (types.SubscriptionStatus, bool) {
	s, ok := t[raw]
	return s, ok
}

// planResolver maps provider price/product ids to plans, falling back to free.
type planResolver struct {
	cfg      *config.Config
	provider types.PaymentProvider
	log      *zap.SugaredLogger
}

// resolve tries each candidate id in order. An unmapped id yields the free plan
// and a warning; checkout must never be rejected over a missing mapping.
func (r planResolver) resolve(eventID string, ids ...string) types.Plan {
	for _, id := range ids {
		if plan, ok := r.cfg.GetPlanByPriceID(r.provider, id); ok {
			return plan
		}
	}
	r.log.Warnw("normalize_unmapped_price",
		"provider", r.provider,
		"event_id", eventID,
		"price_ids", ids,
	)
	return types.PlanFree
}

// finish fills the content-derived event id when the provider sent none and
// validates the event.
func finish(ev *BillingEvent, body []byte) (*BillingEvent, error) {
	if ev.EventID == "" {
		ev.EventID = tool.ContentEventID(body)
	}
	if !ev.OccurredAt.IsZero() {
		ev.OccurredAt = ev.OccurredAt.UTC()
	}
	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return ev, nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
