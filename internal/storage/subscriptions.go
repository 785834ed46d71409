package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tgpromo/promobot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func normalizeChannelUsername(username string) string {
	return strings.TrimPrefix(username, "@")
}

func (s *Storage) GetChannel(ctx context.Context, channelID int64) (*models.Channel, error) {
	var channel models.Channel
	if err := s.db.WithContext(ctx).Where("id = ?", channelID).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownChannel
		}
		return nil, fmt.Errorf("getting channel: %w", err)
	}
	return &channel, nil
}

func (s *Storage) GetChannelByUsername(ctx context.Context, username string) (*models.Channel, error) {
	var channel models.Channel
	if err := s.db.
		WithContext(ctx).
		Where("username = ?", normalizeChannelUsername(username)).
		First(&channel).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownChannel
		}
		return nil, fmt.Errorf("getting channel: %w", err)
	}
	return &channel, nil
}

func (s *Storage) ActiveChannels(ctx context.Context, tier models.ChannelTier) ([]*models.Channel, error) {
	q := s.db.WithContext(ctx).Where("active = ?", true)
	if tier != "" {
		q = q.Where("tier = ?", tier)
	}

	var channels []*models.Channel
	if err := q.Order("created_at").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("listing active channels: %w", err)
	}
	return channels, nil
}

// ChannelsToReconcile returns every channel that still has at least one
// active subscription, including channels already deactivated by order
// completion: departures from those must still be penalized.
func (s *Storage) ChannelsToReconcile(ctx context.Context) ([]*models.Channel, error) {
	sub := s.db.
		Model(&models.Subscription{}).
		Select("DISTINCT channel_id").
		Where("state = ?", models.SubscriptionStateActive)

	var channels []*models.Channel
	if err := s.db.WithContext(ctx).Where("id IN (?)", sub).Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("listing channels to reconcile: %w", err)
	}
	return channels, nil
}

func (s *Storage) ActiveSubscriptionsForChannel(ctx context.Context, channelID int64) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := s.db.
		WithContext(ctx).
		Where("channel_id = ? AND state = ?", channelID, models.SubscriptionStateActive).
		Find(&subs).
		Error; err != nil {
		return nil, fmt.Errorf("listing channel subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Storage) ActiveSubscriptionsForUser(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	if err := s.db.
		WithContext(ctx).
		Where("user_id = ? AND state = ?", userID, models.SubscriptionStateActive).
		Find(&subs).
		Error; err != nil {
		return nil, fmt.Errorf("listing user subscriptions: %w", err)
	}
	return subs, nil
}

// ActiveSubscriptionChannelUsernames lists the usernames of the channels a
// user is currently credited for, for the admin user-info surface.
func (s *Storage) ActiveSubscriptionChannelUsernames(ctx context.Context, userID int64) ([]string, error) {
	var usernames []string
	if err := s.db.
		WithContext(ctx).
		Model(&models.Subscription{}).
		Joins("JOIN channels ON channels.id = subscriptions.channel_id").
		Where("subscriptions.user_id = ? AND subscriptions.state = ?", userID, models.SubscriptionStateActive).
		Order("channels.username").
		Pluck("channels.username", &usernames).
		Error; err != nil {
		return nil, fmt.Errorf("listing subscription channels: %w", err)
	}
	return usernames, nil
}

// GetSubscription returns nil without error when the pair was never recorded.
func (s *Storage) GetSubscription(ctx context.Context, userID, channelID int64) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.
		WithContext(ctx).
		Where("user_id = ? AND channel_id = ?", userID, channelID).
		First(&sub).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting subscription: %w", err)
	}
	return &sub, nil
}

// PutJoinClaim marks an expected bot-mediated join. Idempotent.
func (s *Storage) PutJoinClaim(ctx context.Context, userID, channelID int64) error {
	claim := &models.JoinClaim{UserID: userID, ChannelID: channelID}
	if err := s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "channel_id"},
			},
			DoNothing: true,
		}).
		Create(claim).
		Error; err != nil {
		return fmt.Errorf("creating join claim: %w", err)
	}
	return nil
}

// RecordVerifiedJoin commits the whole credit for one verified bot-mediated
// join as a single transaction: consume the join claim, create the active
// subscription, append the ledger credit and bump the channel (and order)
// verified counts. Either all of it commits or none of it does.
//
// ErrNotApplied means the join must not be credited: no claim existed
// (organic join), the pair was already recorded (duplicate or leave/rejoin
// replay), or the channel is inactive or already at target.
func (s *Storage) RecordVerifiedJoin(
	ctx context.Context,
	userID, channelID int64,
	points int64,
) (*models.Channel, error) {
	var channel models.Channel
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", channelID).
			First(&channel).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownChannel
			}
			return fmt.Errorf("locking channel: %w", err)
		}

		if !channel.Active || channel.VerifiedCount >= channel.Target {
			return ErrNotApplied
		}

		res := tx.
			Where("user_id = ? AND channel_id = ?", userID, channelID).
			Delete(&models.JoinClaim{})
		if res.Error != nil {
			return fmt.Errorf("consuming join claim: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotApplied
		}

		res = tx.
			Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "user_id"},
					{Name: "channel_id"},
				},
				DoNothing: true,
			}).
			Create(&models.Subscription{
				UserID:         userID,
				ChannelID:      channelID,
				State:          models.SubscriptionStateActive,
				CreditedPoints: points,
			})
		if res.Error != nil {
			return fmt.Errorf("creating subscription: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Already active, or previously left: never re-credited.
			return ErrNotApplied
		}

		if _, err := s.applyDelta(tx, userID, points, models.LedgerReasonChannelJoin, &channelID); err != nil {
			return err
		}

		if err := tx.
			Model(&models.User{}).
			Where("telegram_id = ?", userID).
			Update("channels_joined", gorm.Expr("channels_joined + 1")).
			Error; err != nil {
			return fmt.Errorf("incrementing joined counter: %w", err)
		}

		channel.VerifiedCount++
		if err := tx.
			Model(&models.Channel{}).
			Where("id = ?", channelID).
			Update("verified_count", channel.VerifiedCount).
			Error; err != nil {
			return fmt.Errorf("incrementing channel count: %w", err)
		}

		if channel.OrderID != nil {
			if err := tx.
				Model(&models.Order{}).
				Where("id = ? AND status = ?", *channel.OrderID, models.OrderStatusPending).
				Update("verified_count", gorm.Expr("verified_count + 1")).
				Error; err != nil {
				return fmt.Errorf("incrementing order count: %w", err)
			}
		}

		return nil
	}); err != nil {
		return nil, err
	}

	return &channel, nil
}

// RecordDeparture transitions the subscription to "left" and debits the
// ledger by the points credited at join time, unconditionally: the balance
// may go negative. The state guard is the per-pair compare-and-set: when a
// concurrent check already flipped the pair, nothing is applied and the
// caller discards its event.
func (s *Storage) RecordDeparture(ctx context.Context, userID, channelID int64) (int64, bool, error) {
	var (
		penalty int64
		applied bool
	)
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND channel_id = ?", userID, channelID).
			First(&sub).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("locking subscription: %w", err)
		}

		if sub.State != models.SubscriptionStateActive {
			return nil
		}

		now := time.Now()
		res := tx.
			Model(&models.Subscription{}).
			Where(
				"user_id = ? AND channel_id = ? AND state = ?",
				userID, channelID, models.SubscriptionStateActive,
			).
			Updates(map[string]any{
				"state":   models.SubscriptionStateLeft,
				"left_at": &now,
			})
		if res.Error != nil {
			return fmt.Errorf("transitioning subscription: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if _, err := s.applyDelta(tx, userID, -sub.CreditedPoints, models.LedgerReasonLeavePenalty, &channelID); err != nil {
			return err
		}

		if err := tx.
			Model(&models.User{}).
			Where("telegram_id = ? AND channels_joined > 0", userID).
			Update("channels_joined", gorm.Expr("channels_joined - 1")).
			Error; err != nil {
			return fmt.Errorf("decrementing joined counter: %w", err)
		}

		if err := tx.
			Model(&models.Channel{}).
			Where("id = ? AND verified_count > 0", channelID).
			Update("verified_count", gorm.Expr("verified_count - 1")).
			Error; err != nil {
			return fmt.Errorf("decrementing channel count: %w", err)
		}

		// Only the order currently linked to the channel tracks the count;
		// departures never reopen a completed order.
		var ch models.Channel
		if err := tx.Where("id = ?", channelID).First(&ch).Error; err != nil {
			return fmt.Errorf("getting channel: %w", err)
		}
		if ch.OrderID != nil {
			if err := tx.
				Model(&models.Order{}).
				Where(
					"id = ? AND status = ? AND verified_count > 0",
					*ch.OrderID, models.OrderStatusPending,
				).
				Update("verified_count", gorm.Expr("verified_count - 1")).
				Error; err != nil {
				return fmt.Errorf("decrementing order count: %w", err)
			}
		}

		penalty = sub.CreditedPoints
		applied = true
		return nil
	}); err != nil {
		return 0, false, err
	}

	return penalty, applied, nil
}
