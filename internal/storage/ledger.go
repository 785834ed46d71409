package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tgpromo/promobot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// applyDelta appends a ledger entry and refreshes the cached balance inside
// the caller's transaction. The SELECT FOR UPDATE on the user row serializes
// concurrent deltas for the same user; different users never block each other.
// Balances are allowed to go negative.
func (s *Storage) applyDelta(
	tx *gorm.DB,
	userID int64,
	amount int64,
	reason models.LedgerReason,
	refChannel *int64,
) (int64, error) {
	var user models.User
	if err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("telegram_id = ?", userID).
		First(&user).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUnknownUser
		}
		return 0, fmt.Errorf("locking user %d: %w", userID, err)
	}

	entry := &models.LedgerEntry{
		ID:         uuid.New().String(),
		UserID:     userID,
		Amount:     amount,
		Reason:     reason,
		RefChannel: refChannel,
	}
	if err := tx.Create(entry).Error; err != nil {
		return 0, fmt.Errorf("appending ledger entry: %w", err)
	}

	newBalance := user.Balance + amount
	if err := tx.
		Model(&models.User{}).
		Where("telegram_id = ?", userID).
		Update("balance", newBalance).
		Error; err != nil {
		return 0, fmt.Errorf("updating cached balance: %w", err)
	}

	return newBalance, nil
}

func (s *Storage) ApplyDelta(
	ctx context.Context,
	userID int64,
	amount int64,
	reason models.LedgerReason,
	refChannel *int64,
) (int64, error) {
	var newBalance int64
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		newBalance, err = s.applyDelta(tx, userID, amount, reason, refChannel)
		return err
	}); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (s *Storage) GetBalance(ctx context.Context, userID int64) (int64, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Balance, nil
}

// SumLedger recomputes the balance from the append-only entries. It exists
// for audits: the result must always equal the cached balance.
func (s *Storage) SumLedger(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	if err := s.db.
		WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).
		Error; err != nil {
		return 0, fmt.Errorf("summing ledger: %w", err)
	}
	return sum, nil
}

// ClaimDailyReward credits the daily reward at most once per 24 hours.
// The second return value reports whether the reward was granted.
func (s *Storage) ClaimDailyReward(ctx context.Context, userID, points int64) (int64, bool, error) {
	var (
		newBalance int64
		granted    bool
	)
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("telegram_id = ?", userID).
			First(&user).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownUser
			}
			return fmt.Errorf("locking user: %w", err)
		}

		if user.LastDailyReward != nil && time.Since(*user.LastDailyReward) < 24*time.Hour {
			newBalance = user.Balance
			return nil
		}

		var err error
		if newBalance, err = s.applyDelta(tx, userID, points, models.LedgerReasonDailyReward, nil); err != nil {
			return err
		}

		now := time.Now()
		if err := tx.
			Model(&models.User{}).
			Where("telegram_id = ?", userID).
			Update("last_daily_reward", &now).
			Error; err != nil {
			return fmt.Errorf("updating reward timestamp: %w", err)
		}

		granted = true
		return nil
	}); err != nil {
		return 0, false, err
	}
	return newBalance, granted, nil
}
