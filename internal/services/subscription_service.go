package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/tavolohq/tavolo/internal/models"
	apperrors "github.com/tavolohq/tavolo/pkg/errors"
)

// SubscriptionService owns the persisted delivery targets of a tenant. It
// is the only writer of the is_active flag.
type SubscriptionService struct {
	db *gorm.DB
}

// NewSubscriptionService constructs a SubscriptionService.
func NewSubscriptionService(db *gorm.DB) (*SubscriptionService, error) {
	if db == nil {
		return nil, errors.New("subscription service: db is required")
	}
	return &SubscriptionService{db: db}, nil
}

// ListActive returns every active delivery target for the restaurant.
func (s *SubscriptionService) ListActive(ctx context.Context, restaurantID string) ([]models.PushSubscription, error) {
	ctx = ensureContext(ctx)
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return nil, errors.New("subscription service: restaurant id is required")
	}

	var rows []models.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("restaurant_id = ? AND is_active = ?", restaurantID, true).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("subscription service: list active: %w", err)
	}
	return rows, nil
}

// List returns all delivery targets for the restaurant, active or not.
func (s *SubscriptionService) List(ctx context.Context, restaurantID string) ([]models.PushSubscription, error) {
	ctx = ensureContext(ctx)

	var rows []models.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("restaurant_id = ?", restaurantID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("subscription service: list: %w", err)
	}
	return rows, nil
}

// CountActive reports the number of reachable targets for the restaurant.
func (s *SubscriptionService) CountActive(ctx context.Context, restaurantID string) (int64, error) {
	ctx = ensureContext(ctx)

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.PushSubscription{}).
		Where("restaurant_id = ? AND is_active = ?", restaurantID, true).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("subscription service: count active: %w", err)
	}
	return count, nil
}

// Deactivate marks a delivery target inactive. Deactivating an already
// inactive target is a no-op, not an error: permanent push-service
// rejections may be observed again on later broadcasts.
func (s *SubscriptionService) Deactivate(ctx context.Context, restaurantID, subscriptionID string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.PushSubscription{}).
		Where("id = ? AND restaurant_id = ?", subscriptionID, restaurantID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("subscription service: deactivate: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&models.PushSubscription{}).
			Where("id = ? AND restaurant_id = ?", subscriptionID, restaurantID).
			Count(&count).Error; err == nil && count == 0 {
			return apperrors.ErrSubscriptionNotFound
		}
	}
	return nil
}
