package subscription

import (
	"time"

	"github.com/minifleet/minifleet/company"
)

// Subscription is the local persisted record mirroring the external provider
// subscription. It is 1:1 with a Company, never deleted, only transitioned to
// CANCELED. Not to be confused with Snapshot, the resolved provider-side view
type Subscription struct {
	ID                   string                     `json:"id" gorm:"primaryKey"`
	CompanyID            string                     `json:"companyId" gorm:"uniqueIndex"`
	PlanID               string                     `json:"planId"`
	StripeSubscriptionID string                     `json:"-" gorm:"index"`
	Status               company.SubscriptionStatus `json:"status"`
	CurrentPeriodStart   *time.Time                 `json:"currentPeriodStart"`
	CurrentPeriodEnd     *time.Time                 `json:"currentPeriodEnd"`
	CancelAtPeriodEnd    bool                       `json:"cancelAtPeriodEnd"`
	CreatedAt            time.Time                  `json:"createdAt"`
	UpdatedAt            time.Time                  `json:"updatedAt"`
}
