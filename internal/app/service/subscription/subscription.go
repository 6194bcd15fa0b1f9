package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/billing/internal/app/service/provider"
	models "github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
	types "github.com/fatflowers/billing/pkg/types"
)

// Outcome is what Apply did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeSkipped   Outcome = "skipped"
)

type ApplyResult struct {
	Outcome      Outcome              `json:"outcome"`
	UserID       string               `json:"user_id"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

type Service struct {
	db        *gorm.DB
	providers *provider.Registry
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewService(db *gorm.DB, providers *provider.Registry, log *zap.SugaredLogger) *Service {
	return &Service{db: db, providers: providers, log: log, now: time.Now}
}

// upsertColumns are overwritten on conflict; id and created_at keep their first values.
var upsertColumns = []string{
	"user_id",
	"external_customer_id",
	"external_price_or_product_id",
	"plan",
	"status",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"last_event_id",
	"last_event_at",
	"updated_at",
}

// newerOrEqual guards the conflict update so a concurrent older event cannot
// overwrite a newer state.
var newerOrEqual = clause.Where{Exprs: []clause.Expression{clause.Expr{
	SQL: "(subscriptions.last_event_at IS NULL OR excluded.last_event_at IS NULL OR subscriptions.last_event_at <= excluded.last_event_at)",
}}}

// Apply reconciles one canonical event into the subscriptions table. Applying
// the same (provider, event_id) twice is a no-op; events older than the stored
// state are skipped.
func (s *Service) Apply(ctx context.Context, ev *provider.BillingEvent) (*ApplyResult, error) {
	return s.apply(ctx, ev, types.SubscriptionChangeReasonWebhook)
}

func (s *Service) apply(ctx context.Context, ev *provider.BillingEvent, reason types.SubscriptionChangeReason) (*ApplyResult, error) {
	if ev == nil {
		return &ApplyResult{Outcome: OutcomeSkipped}, nil
	}
	log := logctx.FromCtx(ctx, s.log).With(
		"provider", ev.Provider,
		"event_id", ev.EventID,
		"event_type", ev.EventType,
		"external_subscription_id", ev.Payload.ExternalSubscriptionID,
	)

	applied, err := s.eventApplied(ctx, ev.Provider, ev.EventID)
	if err != nil {
		return nil, err
	}
	if applied {
		log.Infow("reconcile_duplicate_event")
		return &ApplyResult{Outcome: OutcomeDuplicate, UserID: ev.Payload.UserID}, nil
	}

	payload := ev.Payload
	if ev.EventType == types.BillingEventTypeCheckoutCompleted {
		payload = s.refetch(ctx, log, ev)
	}

	var result *ApplyResult
	var before *models.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Subscription
		err := tx.Where("provider = ? AND external_subscription_id = ?", ev.Provider, payload.ExternalSubscriptionID).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to load subscription: %w", err)
		}
		found := err == nil
		if found {
			cp := existing
			before = &cp
		}

		if found && existing.LastEventID == ev.EventID {
			result = &ApplyResult{Outcome: OutcomeDuplicate, UserID: existing.UserID, Subscription: &existing}
			return nil
		}
		if found && existing.LastEventAt != nil && !ev.OccurredAt.IsZero() && ev.OccurredAt.Before(*existing.LastEventAt) {
			result = &ApplyResult{Outcome: OutcomeStale, UserID: existing.UserID, Subscription: &existing}
			return nil
		}

		userID := payload.UserID
		if userID == "" && found {
			userID = existing.UserID
		}
		if userID == "" {
			result = &ApplyResult{Outcome: OutcomeSkipped}
			return nil
		}

		row := &models.Subscription{
			ID:                       tool.GenerateUUIDV7(),
			UserID:                   userID,
			Provider:                 ev.Provider,
			ExternalCustomerID:       payload.ExternalCustomerID,
			ExternalSubscriptionID:   payload.ExternalSubscriptionID,
			ExternalPriceOrProductID: payload.PriceID,
			Plan:                     payload.Plan,
			Status:                   payload.Status,
			CurrentPeriodStart:       payload.CurrentPeriodStart,
			CurrentPeriodEnd:         payload.CurrentPeriodEnd,
			CancelAtPeriodEnd:        payload.CancelAtPeriodEnd,
			LastEventID:              ev.EventID,
			LastEventAt:              lastEventAt(ev, before),
		}
		if found {
			if row.ExternalCustomerID == "" {
				row.ExternalCustomerID = existing.ExternalCustomerID
			}
			if row.ExternalPriceOrProductID == "" {
				row.ExternalPriceOrProductID = existing.ExternalPriceOrProductID
			}
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "external_subscription_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
			Where:     newerOrEqual,
		}).Create(row)
		if res.Error != nil {
			return fmt.Errorf("failed to upsert subscription: %w", res.Error)
		}

		var after models.Subscription
		if err := tx.Where("provider = ? AND external_subscription_id = ?", ev.Provider, payload.ExternalSubscriptionID).
			First(&after).Error; err != nil {
			return fmt.Errorf("failed to reload subscription: %w", err)
		}
		if res.RowsAffected == 0 {
			// a newer event won the race
			result = &ApplyResult{Outcome: OutcomeStale, UserID: after.UserID, Subscription: &after}
			return nil
		}
		result = &ApplyResult{Outcome: OutcomeApplied, UserID: after.UserID, Subscription: &after}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case OutcomeApplied:
		log.Infow("reconcile_applied",
			"user_id", result.UserID,
			"plan", result.Subscription.Plan,
			"status", result.Subscription.Status,
		)
		s.writeLog(ctx, before, result.Subscription, ev.EventID, reason)
	case OutcomeSkipped:
		log.Warnw("reconcile_missing_user_id")
	default:
		log.Infow("reconcile_"+string(result.Outcome)+"_event", "user_id", result.UserID)
	}
	return result, nil
}

// refetch replaces the checkout payload with the provider's current view of the
// subscription. On failure the event fields are used as-is.
func (s *Service) refetch(ctx context.Context, log *zap.SugaredLogger, ev *provider.BillingEvent) provider.SubscriptionSnapshot {
	payload := ev.Payload
	if s.providers == nil {
		return payload
	}
	p, err := s.providers.Get(ev.Provider)
	if err != nil {
		log.Warnw("reconcile_refetch_failed", "error", err)
		return payload
	}
	snap, err := p.FetchAuthoritativeSubscription(ctx, payload.ExternalSubscriptionID)
	if err != nil {
		log.Warnw("reconcile_refetch_failed", "error", err)
		return payload
	}
	merged := *snap
	merged.ExternalSubscriptionID = payload.ExternalSubscriptionID
	if payload.UserID != "" {
		merged.UserID = payload.UserID
	}
	if merged.ExternalCustomerID == "" {
		merged.ExternalCustomerID = payload.ExternalCustomerID
	}
	return merged
}

// lastEventAt keeps the stored provider timestamp when the event carries none.
func lastEventAt(ev *provider.BillingEvent, before *models.Subscription) *time.Time {
	if !ev.OccurredAt.IsZero() {
		t := ev.OccurredAt.UTC()
		return &t
	}
	if before != nil {
		return before.LastEventAt
	}
	return nil
}

func (s *Service) eventApplied(ctx context.Context, p types.PaymentProvider, eventID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("provider = ? AND event_id = ? AND applied = ?", p, eventID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check applied events: %w", err)
	}
	return count > 0, nil
}

// writeLog records the change after commit; failures are logged only.
func (s *Service) writeLog(ctx context.Context, before, after *models.Subscription, eventID string, reason types.SubscriptionChangeReason) {
	entry := &models.SubscriptionLog{
		ID:             tool.GenerateUUIDV7(),
		SubscriptionID: after.ID,
		UserID:         after.UserID,
		Provider:       after.Provider,
		EventID:        eventID,
		Reason:         reason,
		Before:         datatypes.NewJSONType(before),
		After:          datatypes.NewJSONType(after),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("subscription_log_write_failed", "subscription_id", after.ID, "error", err)
	}
}

// Refresh pulls the provider's current state of one subscription and applies
// it as a synthetic event stamped with the current time.
func (s *Service) Refresh(ctx context.Context, p types.PaymentProvider, externalSubscriptionID string) (*ApplyResult, error) {
	if s.providers == nil {
		return nil, provider.ErrUnsupportedProvider
	}
	impl, err := s.providers.Get(p)
	if err != nil {
		return nil, err
	}
	snap, err := impl.FetchAuthoritativeSubscription(ctx, externalSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription: %w", err)
	}
	snap.ExternalSubscriptionID = externalSubscriptionID
	ev := &provider.BillingEvent{
		Provider:   p,
		EventID:    "reconcile:" + tool.GenerateUUIDV7(),
		EventType:  types.BillingEventTypeSubscriptionUpdated,
		RawType:    "reconcile",
		OccurredAt: s.now().UTC(),
		Payload:    *snap,
	}
	return s.apply(ctx, ev, types.SubscriptionChangeReasonReconcile)
}
