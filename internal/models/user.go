package models

import "time"

type User struct {
	TelegramID int64  `gorm:"primaryKey"`
	Username   string `gorm:"index"`
	FirstName  string

	// Balance is a cached projection of the user's ledger entries.
	// It is only ever updated in the same transaction that appends an entry.
	Balance        int64
	ChannelsJoined int
	Referrals      int
	ReferredBy     *int64

	LastDailyReward *time.Time

	Banned    bool `gorm:"index"`
	BanReason string
	BannedAt  *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
