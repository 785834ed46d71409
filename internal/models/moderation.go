package models

import "time"

// MandatoryChannel gates all bot functionality until the user is a member.
// It is independent of the points economy: joining one earns nothing.
type MandatoryChannel struct {
	ID       int64  `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex"`
	Title    string
	Link     string
	Active   bool `gorm:"index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// BanRecord is the audit trail for bans; the live flag lives on User.
type BanRecord struct {
	ID       int64 `gorm:"primaryKey"`
	UserID   int64 `gorm:"index"`
	BannedBy int64
	Reason   string

	CreatedAt time.Time `gorm:"autoCreateTime"`
}
