package company

import (
	"context"
	"errors"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Companies and their Users
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for companies
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Company{}, &User{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize company.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// NewCompanyOption contains the parameters for creating a Company with its owner
type NewCompanyOption struct {
	CompanyName string
	OwnerEmail  string
	OwnerName   string
}

// NewCompany will create a Company on TRIAL status along with its OWNER user
func (m *Manager) NewCompany(ctx context.Context, opt NewCompanyOption) (*Company, error) {
	comp := &Company{
		ID:                 shortuuid.New(),
		Name:               opt.CompanyName,
		SubscriptionStatus: StatusTrial,
	}
	owner := &User{
		ID:        shortuuid.New(),
		Email:     opt.OwnerEmail,
		Name:      opt.OwnerName,
		CompanyID: comp.ID,
		Role:      RoleOwner,
	}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if result := tx.Create(comp); result.Error != nil {
			return result.Error
		}
		if result := tx.Create(owner); result.Error != nil {
			return result.Error
		}
		return nil
	})
	if err != nil {
		m.logger.Error("Unable to create new company in database",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot create company")
	}
	return comp, nil
}

// GetByID will try to return the company in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Company, error) {
	var comp Company

	result := m.db.WithContext(ctx).First(&comp, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get company by id")
	}

	return &comp, nil
}

// GetByStripeSubscriptionID resolves the company owning an external subscription
func (m *Manager) GetByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*Company, error) {
	var comp Company

	result := m.db.WithContext(ctx).First(&comp, "stripe_subscription_id = ?", subscriptionID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get company by subscription id")
	}

	return &comp, nil
}

// GetUserByEmail will try to return the user in the database by email address
func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User

	result := m.db.WithContext(ctx).First(&user, "email = ?", email)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get user by email")
	}

	return &user, nil
}

// ListUsersByRole returns the users of a company holding one of the given roles
func (m *Manager) ListUsersByRole(ctx context.Context, companyID string, roles ...Role) ([]User, error) {
	users := make([]User, 0, 2)

	result := m.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Where("role IN ?", roles).
		Find(&users)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list users by role")
	}

	return users, nil
}

// IsEntitled reports if the company's subscription status permits mutating actions
func (m *Manager) IsEntitled(ctx context.Context, companyID string) (bool, error) {
	comp, err := m.GetByID(ctx, companyID)
	if err != nil {
		return false, err
	}
	if comp == nil {
		return false, nil
	}
	return comp.SubscriptionStatus.Entitled(), nil
}
