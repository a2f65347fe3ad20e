package plan

import "time"

// Plan is a priced tier, keyed by the external price identifier. Once an
// active subscription references a plan only the Active flag may change
type Plan struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	Name          string    `json:"name"`
	StripePriceID string    `json:"stripePriceId" gorm:"uniqueIndex"`
	PriceCents    int64     `json:"priceCents"`
	Interval      string    `json:"interval"` // billing frequency (e.g. month)
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
