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

func (s *Storage) BanUser(ctx context.Context, userID, bannedBy int64, reason string) error {
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.
			Model(&models.User{}).
			Where("telegram_id = ?", userID).
			Updates(map[string]any{
				"banned":     true,
				"ban_reason": reason,
				"banned_at":  &now,
			})
		if res.Error != nil {
			return fmt.Errorf("updating user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrUnknownUser
		}

		if err := tx.Create(&models.BanRecord{
			UserID:   userID,
			BannedBy: bannedBy,
			Reason:   reason,
		}).Error; err != nil {
			return fmt.Errorf("creating ban record: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}
	return nil
}

func (s *Storage) UnbanUser(ctx context.Context, userID int64) error {
	res := s.db.
		WithContext(ctx).
		Model(&models.User{}).
		Where("telegram_id = ?", userID).
		Updates(map[string]any{
			"banned":     false,
			"ban_reason": "",
			"banned_at":  nil,
		})
	if res.Error != nil {
		return fmt.Errorf("updating user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUnknownUser
	}
	return nil
}

func (s *Storage) AddMandatoryChannel(ctx context.Context, username, title, link string) error {
	ch := &models.MandatoryChannel{
		Username: normalizeChannelUsername(username),
		Title:    title,
		Link:     link,
		Active:   true,
	}
	if err := s.db.
		WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			UpdateAll: true,
		}).
		Create(ch).
		Error; err != nil {
		return fmt.Errorf("upserting mandatory channel: %w", err)
	}
	return nil
}

func (s *Storage) RemoveMandatoryChannel(ctx context.Context, username string) error {
	if err := s.db.
		WithContext(ctx).
		Where("username = ?", normalizeChannelUsername(username)).
		Delete(&models.MandatoryChannel{}).
		Error; err != nil {
		return fmt.Errorf("deleting mandatory channel: %w", err)
	}
	return nil
}

func (s *Storage) MandatoryChannels(ctx context.Context) ([]*models.MandatoryChannel, error) {
	var channels []*models.MandatoryChannel
	if err := s.db.
		WithContext(ctx).
		Where("active = ?", true).
		Order("created_at").
		Find(&channels).
		Error; err != nil {
		return nil, fmt.Errorf("listing mandatory channels: %w", err)
	}
	return channels, nil
}

func (s *Storage) CreateCode(ctx context.Context, code string, points int64, usageLimit int) error {
	if err := s.db.WithContext(ctx).Create(&models.RedeemCode{
		Code:       code,
		Points:     points,
		UsageLimit: usageLimit,
		Active:     true,
	}).Error; err != nil {
		return fmt.Errorf("creating code: %w", err)
	}
	return nil
}

func (s *Storage) AddSpecialContent(ctx context.Context, title, body string) error {
	if err := s.db.WithContext(ctx).Create(&models.SpecialContent{
		Title:  title,
		Body:   body,
		Active: true,
	}).Error; err != nil {
		return fmt.Errorf("creating special content: %w", err)
	}
	return nil
}

func (s *Storage) SpecialContents(ctx context.Context) ([]*models.SpecialContent, error) {
	var contents []*models.SpecialContent
	if err := s.db.
		WithContext(ctx).
		Where("active = ?", true).
		Order("created_at").
		Find(&contents).
		Error; err != nil {
		return nil, fmt.Errorf("listing special content: %w", err)
	}
	return contents, nil
}

// RedeemCode credits the code's points at most once per user and never past
// the usage limit; the credit and the usage bookkeeping commit together.
func (s *Storage) RedeemCode(ctx context.Context, userID int64, code string) (int64, error) {
	var points int64
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rc models.RedeemCode
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ? AND active = ?", code, true).
			First(&rc).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCodeInvalid
			}
			return fmt.Errorf("locking code: %w", err)
		}

		if rc.UsedCount >= rc.UsageLimit {
			return ErrCodeInvalid
		}

		res := tx.
			Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "code_id"},
					{Name: "user_id"},
				},
				DoNothing: true,
			}).
			Create(&models.CodeUsage{CodeID: rc.ID, UserID: userID})
		if res.Error != nil {
			return fmt.Errorf("recording code usage: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrCodeAlreadyUsed
		}

		if err := tx.
			Model(&models.RedeemCode{}).
			Where("id = ?", rc.ID).
			Update("used_count", gorm.Expr("used_count + 1")).
			Error; err != nil {
			return fmt.Errorf("incrementing usage counter: %w", err)
		}

		if _, err := s.applyDelta(tx, userID, rc.Points, models.LedgerReasonCodeRedeem, nil); err != nil {
			return err
		}

		points = rc.Points
		return nil
	}); err != nil {
		return 0, err
	}
	return points, nil
}
