package models

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
)

type Order struct {
	ID        int64 `gorm:"primaryKey"`
	OwnerID   int64 `gorm:"index"`
	ChannelID int64 `gorm:"index"`

	Target        int
	VerifiedCount int
	PointsCost    int64

	Status OrderStatus `gorm:"index"`

	CreatedAt   time.Time `gorm:"autoCreateTime"`
	CompletedAt *time.Time
}
