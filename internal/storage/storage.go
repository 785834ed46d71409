package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tgpromo/promobot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotApplied is returned when a compare-and-set lost the race or the
	// guarded precondition no longer holds; callers treat it as a no-op.
	ErrNotApplied = errors.New("state change not applied")

	ErrUnknownUser        = errors.New("unknown user")
	ErrUnknownChannel     = errors.New("unknown channel")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrCodeInvalid        = errors.New("code is invalid or exhausted")
	ErrCodeAlreadyUsed    = errors.New("code already used by this user")

	// ErrOrderAlreadyPending rejects a purchase for a channel that is still
	// collecting members for an earlier order.
	ErrOrderAlreadyPending = errors.New("channel already has a pending order")
)

type Storage struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Migrate() error {
	if err := s.db.AutoMigrate(
		&models.User{},
		&models.Channel{},
		&models.Subscription{},
		&models.JoinClaim{},
		&models.Order{},
		&models.LedgerEntry{},
		&models.RedeemCode{},
		&models.CodeUsage{},
		&models.MandatoryChannel{},
		&models.BanRecord{},
		&models.SpecialContent{},
	); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

func (s *Storage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &user, nil
}

// GetOrCreateUser inserts the user on first interaction. The second return
// value reports whether the row was created by this call; the referrer's
// referral counter is bumped in the same transaction, but the referral
// points credit is the caller's job (it goes through the ledger).
func (s *Storage) GetOrCreateUser(
	ctx context.Context,
	telegramID int64,
	username, firstName string,
	referredBy *int64,
) (*models.User, bool, error) {
	userToCreate := &models.User{
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		ReferredBy: referredBy,
	}

	var (
		user    models.User
		created bool
	)
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "telegram_id"}},
				DoNothing: true,
			}).
			Create(userToCreate)
		if res.Error != nil {
			return fmt.Errorf("creating user: %w", res.Error)
		}
		created = res.RowsAffected > 0

		if created && referredBy != nil && *referredBy != telegramID {
			if err := tx.
				Model(&models.User{}).
				Where("telegram_id = ?", *referredBy).
				Update("referrals", gorm.Expr("referrals + 1")).
				Error; err != nil {
				return fmt.Errorf("incrementing referrer counter: %w", err)
			}
		}

		if err := tx.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
			return fmt.Errorf("getting user: %w", err)
		}
		return nil
	}); err != nil {
		return nil, false, fmt.Errorf("in tx: %w", err)
	}

	return &user, created, nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	return &user, nil
}

// ListUserIDs returns every registered user for broadcast fan-out.
func (s *Storage) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.
		WithContext(ctx).
		Model(&models.User{}).
		Order("telegram_id").
		Pluck("telegram_id", &ids).
		Error; err != nil {
		return nil, fmt.Errorf("listing user ids: %w", err)
	}
	return ids, nil
}

func (s *Storage) UpdateUserHandle(ctx context.Context, userID int64, username, firstName string) error {
	if err := s.db.
		WithContext(ctx).
		Model(&models.User{}).
		Where("telegram_id = ?", userID).
		Updates(map[string]any{
			"username":   username,
			"first_name": firstName,
		}).
		Error; err != nil {
		return fmt.Errorf("updating user handle: %w", err)
	}
	return nil
}

type Stats struct {
	Users          int64
	ActiveChannels int64
	TotalPoints    int64
	PendingOrders  int64
}

func (s *Storage) GetStats(ctx context.Context) (*Stats, error) {
	db := s.db.WithContext(ctx)
	stats := &Stats{}

	if err := db.Model(&models.User{}).Count(&stats.Users).Error; err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	if err := db.Model(&models.Channel{}).Where("active = ?", true).Count(&stats.ActiveChannels).Error; err != nil {
		return nil, fmt.Errorf("counting channels: %w", err)
	}
	if err := db.
		Model(&models.User{}).
		Select("COALESCE(SUM(balance), 0)").
		Scan(&stats.TotalPoints).
		Error; err != nil {
		return nil, fmt.Errorf("summing balances: %w", err)
	}
	if err := db.
		Model(&models.Order{}).
		Where("status = ?", models.OrderStatusPending).
		Count(&stats.PendingOrders).
		Error; err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}

	return stats, nil
}
