package company

import "time"

// SubscriptionStatus is the local billing status of a Company, kept in
// sync with the most recently resolved provider snapshot
type SubscriptionStatus string

// Defining the possible billing statuses for a Company
const (
	StatusTrial    SubscriptionStatus = "TRIAL"
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusPastDue  SubscriptionStatus = "PAST_DUE"
	StatusUnpaid   SubscriptionStatus = "UNPAID"
	StatusCanceled SubscriptionStatus = "CANCELED"
)

// Entitled reports if the status permits mutating actions
func (s SubscriptionStatus) Entitled() bool {
	return s == StatusActive || s == StatusTrial
}

// Company is the tenant boundary. Every other entity is scoped by CompanyID
type Company struct {
	ID                   string             `json:"id" gorm:"primaryKey"`
	Name                 string             `json:"name"`
	PhoneNumber          string             `json:"phoneNumber"` // recipient for SMS reminders
	StripeCustomerID     string             `json:"-" gorm:"index"`
	StripeSubscriptionID string             `json:"-" gorm:"index"`
	SubscriptionStatus   SubscriptionStatus `json:"subscriptionStatus"`
	SubscriptionPlanID   string             `json:"subscriptionPlanId"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}
