package maintenance

import "time"

// Schedule tracks when a vehicle is next due for a given service
// template. One row per (vehicle, template) pair, refreshed every time
// a matching service is logged.
type Schedule struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	CompanyID       string     `json:"companyId" gorm:"index"`
	VehicleID       string     `json:"vehicleId" gorm:"uniqueIndex:idx_schedules_vehicle_template"`
	TemplateID      string     `json:"templateId" gorm:"uniqueIndex:idx_schedules_vehicle_template"`
	LastServiceDate *time.Time `json:"lastServiceDate"`
	LastServiceODO  *int64     `json:"lastServiceOdo"`
	NextDueDate     *time.Time `json:"nextDueDate"`
	NextDueODO      *int64     `json:"nextDueOdo"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ServiceEvent is an immutable record of a service performed on a
// vehicle
type ServiceEvent struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	CompanyID   string    `json:"companyId" gorm:"index"`
	VehicleID   string    `json:"vehicleId" gorm:"index"`
	TemplateID  string    `json:"templateId"`
	ServiceDate time.Time `json:"serviceDate"`
	Odometer    int64     `json:"odometer"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"createdAt"`
}

// addMonthsClamped advances t by the given number of calendar months,
// clamping to the last day of the target month instead of letting the
// overflow spill into the next one (Jan 31 + 1 month is Feb 29 on a
// leap year, not Mar 2).
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	firstOfTarget := time.Date(year, month+time.Month(months), 1, hour, min, sec, t.Nanosecond(), t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

// DaysUntil returns the number of whole days between now and the due
// date, comparing at day granularity in UTC. Negative means overdue.
func DaysUntil(due time.Time, now time.Time) int {
	truncate := func(t time.Time) time.Time {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return int(truncate(due).Sub(truncate(now)).Hours() / 24)
}

// NextDue computes the next due date and odometer reading from the
// last recorded service. A nil interval leaves the corresponding
// projection unset.
func NextDue(tmpl *Template, serviceDate time.Time, odometer int64) (*time.Time, *int64) {
	var (
		dueDate *time.Time
		dueODO  *int64
	)
	if tmpl.IntervalMonths != nil {
		d := addMonthsClamped(serviceDate, *tmpl.IntervalMonths)
		dueDate = &d
	}
	if tmpl.IntervalMiles != nil {
		o := odometer + *tmpl.IntervalMiles
		dueODO = &o
	}
	return dueDate, dueODO
}
