package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/minifleet/minifleet/company"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dedupIndex keeps duplicate reminders out at the persistence layer.
// FAILED rows are excluded so a failed delivery can be recreated.
const dedupIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_reminders_dedup ON reminders (schedule_id, due_date, channel) WHERE status IN ('PENDING','IN_PROGRESS','SENT')`

var _ Store = (*Manager)(nil)

// Manager handles the database operations relating to Reminders
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for reminders
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Reminder{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize reminder.Manager")
	}
	if result := db.Exec(dedupIndex); result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot create reminder dedup index")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// CreateIfAbsent inserts a PENDING reminder unless a live one already
// exists for the same (schedule, due date, channel). Returns whether a
// row was actually created; racing scanners silently lose.
func (m *Manager) CreateIfAbsent(ctx context.Context, reminder *Reminder) (bool, error) {
	if len(reminder.ID) == 0 {
		reminder.ID = shortuuid.New()
	}
	reminder.Status = StatusPending

	result := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "schedule_id"},
			{Name: "due_date"},
			{Name: "channel"},
		},
		TargetWhere: clause.Where{
			Exprs: []clause.Expression{
				clause.Expr{SQL: "status IN ('PENDING','IN_PROGRESS','SENT')"},
			},
		},
		DoNothing: true,
	}).Create(reminder)

	if result.Error != nil {
		m.logger.Error("Unable to create reminder in database",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot create reminder")
	}

	return result.RowsAffected > 0, nil
}

// ListPending returns PENDING reminders of companies whose
// subscription is in good standing
func (m *Manager) ListPending(ctx context.Context) ([]Reminder, error) {
	reminders := make([]Reminder, 0, 16)

	result := m.db.WithContext(ctx).
		Joins("JOIN companies ON companies.id = reminders.company_id").
		Where("companies.subscription_status IN ?", []company.SubscriptionStatus{
			company.StatusActive,
			company.StatusTrial,
		}).
		Where("reminders.status = ?", StatusPending).
		Order("reminders.due_date asc").
		Find(&reminders)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list pending reminders")
	}
	return reminders, nil
}

// Claim atomically takes ownership of a pending reminder before its
// delivery is attempted. Returns whether the claim won; dispatch passes
// run in more than one process and the loser must not send.
func (m *Manager) Claim(ctx context.Context, reminderID string) (bool, error) {
	result := m.db.WithContext(ctx).Model(&Reminder{}).
		Where("id = ? AND status = ?", reminderID, StatusPending).
		Update("status", StatusInProgress)
	if result.Error != nil {
		return false, extErrors.Wrap(result.Error, "Cannot claim reminder")
	}
	return result.RowsAffected > 0, nil
}

// MarkSent transitions a claimed reminder to SENT and records the send time
func (m *Manager) MarkSent(ctx context.Context, reminderID string, sentAt time.Time) error {
	result := m.db.WithContext(ctx).Model(&Reminder{}).
		Where("id = ? AND status = ?", reminderID, StatusInProgress).
		Updates(map[string]interface{}{
			"status":     StatusSent,
			"sent_at":    sentAt,
			"last_error": "",
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark reminder as sent")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("reminder %s is not claimed", reminderID)
	}
	return nil
}

// MarkFailed transitions a claimed reminder to FAILED with the delivery
// error. The dedup index ignores FAILED rows so the next scan can
// recreate it.
func (m *Manager) MarkFailed(ctx context.Context, reminderID string, sendErr error) error {
	result := m.db.WithContext(ctx).Model(&Reminder{}).
		Where("id = ? AND status = ?", reminderID, StatusInProgress).
		Updates(map[string]interface{}{
			"status":     StatusFailed,
			"last_error": sendErr.Error(),
		})
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot mark reminder as failed")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("reminder %s is not claimed", reminderID)
	}
	return nil
}

// ListByCompany returns a company's reminders, most recent due first
func (m *Manager) ListByCompany(ctx context.Context, companyID string) ([]Reminder, error) {
	reminders := make([]Reminder, 0, 16)

	result := m.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("due_date desc").
		Find(&reminders)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list reminders")
	}
	return reminders, nil
}
