package models

import "time"

// SpecialContent is admin-curated material shown only to users without any
// active subscriptions, which covers both newcomers and channel leavers.
type SpecialContent struct {
	ID     int64 `gorm:"primaryKey"`
	Title  string
	Body   string
	Active bool `gorm:"index"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}
