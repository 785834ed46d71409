package models

import "time"

type LedgerReason string

const (
	LedgerReasonChannelJoin   LedgerReason = "channel_join"
	LedgerReasonLeavePenalty  LedgerReason = "leave_penalty"
	LedgerReasonDailyReward   LedgerReason = "daily_reward"
	LedgerReasonReferral      LedgerReason = "referral"
	LedgerReasonCodeRedeem    LedgerReason = "code_redeem"
	LedgerReasonOrderPurchase LedgerReason = "order_purchase"
	LedgerReasonAdminAdjust   LedgerReason = "admin_adjust"
)

// LedgerEntry is an append-only record of a single balance change.
// The sum of a user's entries equals users.balance at all times.
type LedgerEntry struct {
	ID     string `gorm:"type:uuid;primaryKey"`
	UserID int64  `gorm:"index"`

	Amount int64
	Reason LedgerReason

	RefChannel *int64

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}
