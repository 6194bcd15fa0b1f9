package subscription

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	models "github.com/fatflowers/billing/internal/models"
)

// GetCanonical returns the row that decides access for userID: the most recently
// updated, ties broken by the newest provider event. It returns nil, nil when
// the user has no subscription.
func (s *Service) GetCanonical(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Order("last_event_at IS NULL").
		Order("last_event_at desc").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at desc").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *Service) ListLogs(ctx context.Context, subscriptionID string) ([]*models.SubscriptionLog, error) {
	var logs []*models.SubscriptionLog
	if err := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Order("created_at asc").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
