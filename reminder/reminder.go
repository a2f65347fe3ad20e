package reminder

import (
	"context"
	"time"

	"github.com/minifleet/minifleet/company"
	"github.com/minifleet/minifleet/maintenance"
	"github.com/minifleet/minifleet/vehicle"
)

// Channel is the medium a reminder goes out on
type Channel string

// Delivery channels
const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// Status is the lifecycle state of a reminder
type Status string

// Reminder lifecycle states. IN_PROGRESS marks a reminder claimed by a
// dispatcher pass so a concurrent pass cannot send it again. FAILED
// reminders do not block a fresh attempt for the same schedule and due
// date.
const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
)

// Reminder is a single notification owed for an upcoming or overdue
// maintenance schedule. At most one live (PENDING, IN_PROGRESS, or
// SENT) reminder may exist per (schedule, due date, channel); the
// partial unique index set up in NewManager enforces it.
type Reminder struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	ScheduleID string     `json:"scheduleId" gorm:"index"`
	VehicleID  string     `json:"vehicleId"`
	CompanyID  string     `json:"companyId" gorm:"index"`
	DueDate    time.Time  `json:"dueDate"`
	Channel    Channel    `json:"channel"`
	Status     Status     `json:"status"`
	LastError  string     `json:"lastError"`
	SentAt     *time.Time `json:"sentAt"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Store is the persistence surface the scanner and dispatcher operate on
type Store interface {
	CreateIfAbsent(ctx context.Context, reminder *Reminder) (bool, error)
	ListPending(ctx context.Context) ([]Reminder, error)
	Claim(ctx context.Context, reminderID string) (bool, error)
	MarkSent(ctx context.Context, reminderID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, reminderID string, sendErr error) error
}

// CompanyDirectory resolves companies and their notification recipients
type CompanyDirectory interface {
	GetByID(ctx context.Context, id string) (*company.Company, error)
	ListUsersByRole(ctx context.Context, companyID string, roles ...company.Role) ([]company.User, error)
}

// VehicleDirectory resolves the vehicles reminders refer to
type VehicleDirectory interface {
	GetByID(ctx context.Context, id string) (*vehicle.Vehicle, error)
}

// MaintenanceSource provides the schedule and template lookups reminders need
type MaintenanceSource interface {
	ListDueSchedules(ctx context.Context, horizon time.Time) ([]maintenance.DueSchedule, error)
	GetSchedule(ctx context.Context, id string) (*maintenance.Schedule, error)
	GetTemplate(ctx context.Context, id string) (*maintenance.Template, error)
}
