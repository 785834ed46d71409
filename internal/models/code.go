package models

import "time"

type RedeemCode struct {
	ID   int64  `gorm:"primaryKey"`
	Code string `gorm:"uniqueIndex"`

	Points     int64
	UsageLimit int
	UsedCount  int
	Active     bool

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

type CodeUsage struct {
	CodeID int64 `gorm:"primaryKey"`
	UserID int64 `gorm:"primaryKey"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}
