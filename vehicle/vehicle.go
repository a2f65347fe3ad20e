package vehicle

import "time"

// Vehicle is a fleet vehicle owned by a Company
type Vehicle struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	CompanyID       string    `json:"companyId" gorm:"index"`
	Make            string    `json:"make"`
	Model           string    `json:"model"`
	Year            int       `json:"year"`
	LicensePlate    string    `json:"licensePlate"`
	CurrentOdometer int64     `json:"currentOdometer"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
