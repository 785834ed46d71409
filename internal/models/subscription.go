package models

import "time"

type SubscriptionState string

const (
	SubscriptionStateActive SubscriptionState = "active"
	SubscriptionStateLeft   SubscriptionState = "left"
)

// Subscription records that a user was credited for joining a channel.
// Rows are never deleted: a confirmed departure flips State to "left" so the
// join/leave history stays auditable and a leave/rejoin cycle cannot be
// replayed for points.
type Subscription struct {
	UserID    int64 `gorm:"primaryKey"`
	ChannelID int64 `gorm:"primaryKey"`

	State SubscriptionState `gorm:"index"`

	// CreditedPoints is the tier price at join time. The departure penalty
	// debits exactly this amount even if prices change later.
	CreditedPoints int64

	JoinedAt time.Time `gorm:"autoCreateTime"`
	LeftAt   *time.Time
}

// JoinClaim marks an expected bot-mediated join: it is written when a user
// starts the join flow and consumed when the join is verified. Oracle results
// for users without a claim never create subscriptions.
type JoinClaim struct {
	UserID    int64 `gorm:"primaryKey"`
	ChannelID int64 `gorm:"primaryKey"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}
