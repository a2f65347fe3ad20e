package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/minifleet/minifleet/maintenance"

	"go.uber.org/zap"
)

// reminders are raised once a schedule is due within this many days
const leadDays = 7

// ScannerOptions contains the configuration for Scanner
type ScannerOptions struct {
	CompanyManager     CompanyDirectory
	MaintenanceManager MaintenanceSource
	ReminderManager    Store
	Logger             *zap.Logger
}

// Scanner walks due maintenance schedules and materializes reminders
// for them. Safe to run concurrently and repeatedly: the persistence
// layer drops duplicates.
type Scanner struct {
	ScannerOptions
}

// NewScanner returns a new Scanner
func NewScanner(option ScannerOptions) (*Scanner, error) {
	if option.CompanyManager == nil {
		return nil, fmt.Errorf("nil CompanyManager is invalid")
	}
	if option.MaintenanceManager == nil {
		return nil, fmt.Errorf("nil MaintenanceManager is invalid")
	}
	if option.ReminderManager == nil {
		return nil, fmt.Errorf("nil ReminderManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Scanner{
		ScannerOptions: option,
	}, nil
}

// ScanSummary reports what a single scan pass did
type ScanSummary struct {
	Scanned int `json:"scanned"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Eligible reports whether a schedule due on the given date should
// have a reminder at the given time. Overdue schedules stay eligible
// indefinitely.
func Eligible(dueDate time.Time, now time.Time) bool {
	return maintenance.DaysUntil(dueDate, now) <= leadDays
}

// Scan raises reminders for every schedule due within the lead window,
// including overdue ones. An EMAIL reminder is always created; an SMS
// reminder only when the company has a phone number on file.
func (s *Scanner) Scan(ctx context.Context, now time.Time) (*ScanSummary, error) {
	// pad the cutoff by a day so day-granularity eligibility is the
	// only filter that matters
	horizon := now.AddDate(0, 0, leadDays+1)

	due, err := s.MaintenanceManager.ListDueSchedules(ctx, horizon)
	if err != nil {
		return nil, err
	}

	summary := &ScanSummary{}
	for _, d := range due {
		if d.Schedule.NextDueDate == nil || !Eligible(*d.Schedule.NextDueDate, now) {
			continue
		}
		summary.Scanned++

		comp, err := s.CompanyManager.GetByID(ctx, d.Schedule.CompanyID)
		if err != nil {
			return nil, err
		}
		if comp == nil {
			s.Logger.Warn("Schedule references missing company",
				zap.String("ScheduleID", d.Schedule.ID),
			)
			continue
		}

		channels := []Channel{ChannelEmail}
		if len(comp.PhoneNumber) > 0 {
			channels = append(channels, ChannelSMS)
		}

		for _, channel := range channels {
			created, err := s.ReminderManager.CreateIfAbsent(ctx, &Reminder{
				ScheduleID: d.Schedule.ID,
				VehicleID:  d.Schedule.VehicleID,
				CompanyID:  d.Schedule.CompanyID,
				DueDate:    *d.Schedule.NextDueDate,
				Channel:    channel,
			})
			if err != nil {
				return nil, err
			}
			if created {
				summary.Created++
			} else {
				summary.Skipped++
			}
		}
	}

	s.Logger.Info("Reminder scan completed",
		zap.Int("Scanned", summary.Scanned),
		zap.Int("Created", summary.Created),
		zap.Int("Skipped", summary.Skipped),
	)
	return summary, nil
}
