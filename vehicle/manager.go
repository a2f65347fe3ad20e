package vehicle

import (
	"context"
	"errors"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Vehicles
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for vehicles
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Vehicle{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize vehicle.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// Create will persist a new vehicle
func (m *Manager) Create(ctx context.Context, v *Vehicle) error {
	if len(v.ID) == 0 {
		v.ID = shortuuid.New()
	}
	result := m.db.WithContext(ctx).Create(v)
	if result.Error != nil {
		m.logger.Error("Unable to create new vehicle in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create vehicle")
	}
	return nil
}

// GetByID will try to return the vehicle in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Vehicle, error) {
	var v Vehicle

	result := m.db.WithContext(ctx).First(&v, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get vehicle by id")
	}

	return &v, nil
}

// List returns all vehicles belonging to a company
func (m *Manager) List(ctx context.Context, companyID string) ([]Vehicle, error) {
	vehicles := make([]Vehicle, 0, 8)

	result := m.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("created_at asc").
		Find(&vehicles)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list vehicles")
	}
	return vehicles, nil
}

// BumpOdometer raises the recorded odometer, never lowering it
func (m *Manager) BumpOdometer(ctx context.Context, vehicleID string, odometer int64) error {
	result := m.db.WithContext(ctx).Model(&Vehicle{}).
		Where("id = ?", vehicleID).
		Where("current_odometer < ?", odometer).
		Update("current_odometer", odometer)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot update vehicle odometer")
	}
	return nil
}
