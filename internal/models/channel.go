package models

import "time"

type ChannelTier string

const (
	ChannelTierNormal ChannelTier = "normal"
	ChannelTierVIP    ChannelTier = "vip"
)

type Channel struct {
	ID       int64  `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex"`
	Tier     ChannelTier

	// Target is the number of verified bot-mediated members to collect.
	// VerifiedCount only counts subscriptions created through the bot,
	// never organic joins.
	Target        int
	VerifiedCount int
	Active        bool `gorm:"index"`

	OrderID *int64

	CreatedAt time.Time `gorm:"autoCreateTime"`
}
