package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tgpromo/promobot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateOrder debits the owner and registers the channel for collection in
// one transaction. A channel that was promoted before is reactivated with a
// fresh target; its stale active subscriptions are retired without penalty so
// the new round starts counting from zero while the old history stays intact.
func (s *Storage) CreateOrder(
	ctx context.Context,
	ownerID int64,
	channelUsername string,
	tier models.ChannelTier,
	target int,
	cost int64,
) (*models.Order, error) {
	username := normalizeChannelUsername(channelUsername)

	var order *models.Order
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("telegram_id = ?", ownerID).
			First(&owner).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownUser
			}
			return fmt.Errorf("locking owner: %w", err)
		}

		if owner.Balance < cost {
			return ErrInsufficientPoints
		}

		var channel models.Channel
		err := tx.Where("username = ?", username).First(&channel).Error
		switch {
		case err == nil:
			// A channel is never backed by two live orders at once: the
			// verified-count bookkeeping assumes a single pending order.
			var pending int64
			if err := tx.
				Model(&models.Order{}).
				Where("channel_id = ? AND status = ?", channel.ID, models.OrderStatusPending).
				Count(&pending).
				Error; err != nil {
				return fmt.Errorf("counting pending orders: %w", err)
			}
			if pending > 0 {
				return ErrOrderAlreadyPending
			}

			now := time.Now()
			if err := tx.
				Model(&models.Subscription{}).
				Where("channel_id = ? AND state = ?", channel.ID, models.SubscriptionStateActive).
				Updates(map[string]any{
					"state":   models.SubscriptionStateLeft,
					"left_at": &now,
				}).
				Error; err != nil {
				return fmt.Errorf("retiring stale subscriptions: %w", err)
			}

			if err := tx.
				Model(&models.Channel{}).
				Where("id = ?", channel.ID).
				Updates(map[string]any{
					"active":         true,
					"tier":           tier,
					"target":         target,
					"verified_count": 0,
				}).
				Error; err != nil {
				return fmt.Errorf("reactivating channel: %w", err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			channel = models.Channel{
				Username: username,
				Tier:     tier,
				Target:   target,
				Active:   true,
			}
			if err := tx.Create(&channel).Error; err != nil {
				return fmt.Errorf("creating channel: %w", err)
			}
		default:
			return fmt.Errorf("getting channel: %w", err)
		}

		if _, err := s.applyDelta(tx, ownerID, -cost, models.LedgerReasonOrderPurchase, &channel.ID); err != nil {
			return err
		}

		order = &models.Order{
			OwnerID:    ownerID,
			ChannelID:  channel.ID,
			Target:     target,
			PointsCost: cost,
			Status:     models.OrderStatusPending,
		}
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("creating order: %w", err)
		}

		if err := tx.
			Model(&models.Channel{}).
			Where("id = ?", channel.ID).
			Update("order_id", order.ID).
			Error; err != nil {
			return fmt.Errorf("linking channel to order: %w", err)
		}

		return nil
	}); err != nil {
		return nil, err
	}

	return order, nil
}

func (s *Storage) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("order %d: %w", orderID, gorm.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return &order, nil
}

func (s *Storage) UserOrders(ctx context.Context, ownerID int64) ([]*models.Order, error) {
	var orders []*models.Order
	if err := s.db.
		WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&orders).
		Error; err != nil {
		return nil, fmt.Errorf("listing user orders: %w", err)
	}
	return orders, nil
}

// CompleteOrder transitions the order to completed and deactivates its
// channel, atomically and at most once. The status guard in the UPDATE is
// the compare-and-set: under concurrent increments that cross the target,
// exactly one caller sees applied=true and emits the completion event.
func (s *Storage) CompleteOrder(ctx context.Context, orderID int64) (*models.Order, bool, error) {
	var (
		order   models.Order
		applied bool
	)
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.
			Model(&models.Order{}).
			Where(
				"id = ? AND status = ? AND verified_count >= target",
				orderID, models.OrderStatusPending,
			).
			Updates(map[string]any{
				"status":       models.OrderStatusCompleted,
				"completed_at": &now,
			})
		if res.Error != nil {
			return fmt.Errorf("completing order: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Where("id = ?", orderID).First(&order).Error; err != nil {
			return fmt.Errorf("getting completed order: %w", err)
		}

		if err := tx.
			Model(&models.Channel{}).
			Where("id = ?", order.ChannelID).
			Update("active", false).
			Error; err != nil {
			return fmt.Errorf("deactivating channel: %w", err)
		}

		applied = true
		return nil
	}); err != nil {
		return nil, false, err
	}

	if !applied {
		return nil, false, nil
	}
	return &order, true, nil
}
