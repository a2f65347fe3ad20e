package maintenance

import "time"

// Template describes a recurring service, e.g. "Oil Change" every 3
// months or 5000 miles. Templates with an empty CompanyID are global
// defaults visible to every company.
type Template struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	CompanyID      string    `json:"companyId" gorm:"index"`
	Name           string    `json:"name"`
	IntervalMonths *int      `json:"intervalMonths"`
	IntervalMiles  *int64    `json:"intervalMiles"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
