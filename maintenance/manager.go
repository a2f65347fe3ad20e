package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minifleet/minifleet/company"
	"github.com/minifleet/minifleet/vehicle"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManagerOptions contains the configuration for Manager
type ManagerOptions struct {
	DB             *gorm.DB
	VehicleManager *vehicle.Manager
	Logger         *zap.Logger
}

// Manager handles the database operations relating to maintenance
// templates, schedules, and service history
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for maintenance tracking
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.VehicleManager == nil {
		return nil, fmt.Errorf("nil VehicleManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Template{}, &Schedule{}, &ServiceEvent{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize maintenance.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// CreateTemplate will persist a new service template
func (m *Manager) CreateTemplate(ctx context.Context, tmpl *Template) error {
	if tmpl.IntervalMonths == nil && tmpl.IntervalMiles == nil {
		return fmt.Errorf("template needs at least one of months or miles interval")
	}
	if len(tmpl.ID) == 0 {
		tmpl.ID = shortuuid.New()
	}
	result := m.DB.WithContext(ctx).Create(tmpl)
	if result.Error != nil {
		m.Logger.Error("Unable to create service template in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create template")
	}
	return nil
}

// GetTemplate will try to return the template in the database by id
func (m *Manager) GetTemplate(ctx context.Context, id string) (*Template, error) {
	var tmpl Template

	result := m.DB.WithContext(ctx).First(&tmpl, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get template by id")
	}

	return &tmpl, nil
}

// ListTemplates returns a company's templates plus the global defaults
func (m *Manager) ListTemplates(ctx context.Context, companyID string) ([]Template, error) {
	templates := make([]Template, 0, 8)

	result := m.DB.WithContext(ctx).
		Where("company_id = ? OR company_id = ''", companyID).
		Order("name asc").
		Find(&templates)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list templates")
	}
	return templates, nil
}

// GetSchedule will try to return the schedule in the database by id
func (m *Manager) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	var sched Schedule

	result := m.DB.WithContext(ctx).First(&sched, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get schedule by id")
	}

	return &sched, nil
}

// ListSchedules returns all schedules for a company's vehicles
func (m *Manager) ListSchedules(ctx context.Context, companyID string) ([]Schedule, error) {
	schedules := make([]Schedule, 0, 8)

	result := m.DB.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("next_due_date asc").
		Find(&schedules)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list schedules")
	}
	return schedules, nil
}

// LogServiceOption contains the details of a performed service
type LogServiceOption struct {
	CompanyID   string
	VehicleID   string
	TemplateID  string
	ServiceDate time.Time
	Odometer    int64
	Notes       string
}

// LogService records a performed service, bumps the vehicle odometer,
// and refreshes the schedule projection for the (vehicle, template)
// pair
func (m *Manager) LogService(ctx context.Context, option LogServiceOption) (*Schedule, error) {
	tmpl, err := m.GetTemplate(ctx, option.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template %s does not exist", option.TemplateID)
	}
	if len(tmpl.CompanyID) > 0 && tmpl.CompanyID != option.CompanyID {
		return nil, fmt.Errorf("template %s does not exist", option.TemplateID)
	}

	event := &ServiceEvent{
		ID:          uuid.New().String(),
		CompanyID:   option.CompanyID,
		VehicleID:   option.VehicleID,
		TemplateID:  option.TemplateID,
		ServiceDate: option.ServiceDate,
		Odometer:    option.Odometer,
		Notes:       option.Notes,
	}
	if result := m.DB.WithContext(ctx).Create(event); result.Error != nil {
		m.Logger.Error("Unable to record service event",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot record service event")
	}

	if err := m.VehicleManager.BumpOdometer(ctx, option.VehicleID, option.Odometer); err != nil {
		return nil, err
	}

	nextDate, nextODO := NextDue(tmpl, option.ServiceDate, option.Odometer)

	sched := &Schedule{
		ID:              shortuuid.New(),
		CompanyID:       option.CompanyID,
		VehicleID:       option.VehicleID,
		TemplateID:      option.TemplateID,
		LastServiceDate: &option.ServiceDate,
		LastServiceODO:  &option.Odometer,
		NextDueDate:     nextDate,
		NextDueODO:      nextODO,
	}
	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "vehicle_id"}, {Name: "template_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_service_date": sched.LastServiceDate,
			"last_service_odo":  sched.LastServiceODO,
			"next_due_date":     sched.NextDueDate,
			"next_due_odo":      sched.NextDueODO,
			"updated_at":        time.Now(),
		}),
	}).Create(sched)
	if result.Error != nil {
		m.Logger.Error("Unable to upsert maintenance schedule",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot upsert schedule")
	}

	var refreshed Schedule
	if result := m.DB.WithContext(ctx).
		First(&refreshed, "vehicle_id = ? AND template_id = ?", option.VehicleID, option.TemplateID); result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot read back schedule")
	}
	return &refreshed, nil
}

// DueSchedule is a schedule joined with the vehicle and template it
// belongs to, as returned by ListDueSchedules
type DueSchedule struct {
	Schedule Schedule
	Vehicle  vehicle.Vehicle
	Template Template
}

// ListDueSchedules returns schedules with a due date on or before the
// horizon, restricted to companies whose subscription is in good
// standing. Overdue schedules are always included.
func (m *Manager) ListDueSchedules(ctx context.Context, horizon time.Time) ([]DueSchedule, error) {
	schedules := make([]Schedule, 0, 16)

	result := m.DB.WithContext(ctx).
		Joins("JOIN companies ON companies.id = schedules.company_id").
		Where("companies.subscription_status IN ?", []company.SubscriptionStatus{
			company.StatusActive,
			company.StatusTrial,
		}).
		Where("schedules.next_due_date IS NOT NULL").
		Where("schedules.next_due_date <= ?", horizon).
		Order("schedules.next_due_date asc").
		Find(&schedules)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list due schedules")
	}

	due := make([]DueSchedule, 0, len(schedules))
	for _, sched := range schedules {
		v, err := m.VehicleManager.GetByID(ctx, sched.VehicleID)
		if err != nil {
			return nil, err
		}
		tmpl, err := m.GetTemplate(ctx, sched.TemplateID)
		if err != nil {
			return nil, err
		}
		if v == nil || tmpl == nil {
			m.Logger.Warn("Schedule references missing vehicle or template",
				zap.String("ScheduleID", sched.ID),
			)
			continue
		}
		due = append(due, DueSchedule{
			Schedule: sched,
			Vehicle:  *v,
			Template: *tmpl,
		})
	}
	return due, nil
}

// ListServiceHistory returns the recorded services of a vehicle, most
// recent first
func (m *Manager) ListServiceHistory(ctx context.Context, companyID, vehicleID string) ([]ServiceEvent, error) {
	events := make([]ServiceEvent, 0, 8)

	result := m.DB.WithContext(ctx).
		Where("company_id = ? AND vehicle_id = ?", companyID, vehicleID).
		Order("service_date desc").
		Find(&events)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list service history")
	}
	return events, nil
}
