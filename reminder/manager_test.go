package reminder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
	})

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn: conn,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)

	return gdb, mock
}

func testReminderManager(gdb *gorm.DB) *Manager {
	return &Manager{
		db:     gdb,
		logger: zap.NewNop(),
	}
}

func TestCreateIfAbsent(t *testing.T) {
	t.Run("inserts when no live duplicate exists", func(t *testing.T) {
		gdb, mock := setupMockDB(t)
		m := testReminderManager(gdb)

		mock.ExpectExec(`INSERT INTO "reminders" .* ON CONFLICT \("schedule_id","due_date","channel"\) WHERE status IN \('PENDING','IN_PROGRESS','SENT'\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := m.CreateIfAbsent(context.Background(), &Reminder{
			ScheduleID: "sched_1",
			VehicleID:  "veh_1",
			CompanyID:  "comp_1",
			DueDate:    time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC),
			Channel:    ChannelEmail,
		})
		require.NoError(t, err)
		assert.True(t, created)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict with a live duplicate reports not created", func(t *testing.T) {
		gdb, mock := setupMockDB(t)
		m := testReminderManager(gdb)

		mock.ExpectExec(`INSERT INTO "reminders" .* DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		created, err := m.CreateIfAbsent(context.Background(), &Reminder{
			ScheduleID: "sched_1",
			VehicleID:  "veh_1",
			CompanyID:  "comp_1",
			DueDate:    time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC),
			Channel:    ChannelEmail,
		})
		require.NoError(t, err)
		assert.False(t, created)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestClaim(t *testing.T) {
	t.Run("wins on a pending reminder", func(t *testing.T) {
		gdb, mock := setupMockDB(t)
		m := testReminderManager(gdb)

		mock.ExpectExec(`UPDATE "reminders" SET`).
			WithArgs("IN_PROGRESS", sqlmock.AnyArg(), "rem_1", "PENDING").
			WillReturnResult(sqlmock.NewResult(0, 1))

		claimed, err := m.Claim(context.Background(), "rem_1")
		require.NoError(t, err)
		assert.True(t, claimed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("loses when another pass already took it", func(t *testing.T) {
		gdb, mock := setupMockDB(t)
		m := testReminderManager(gdb)

		mock.ExpectExec(`UPDATE "reminders" SET`).
			WithArgs("IN_PROGRESS", sqlmock.AnyArg(), "rem_1", "PENDING").
			WillReturnResult(sqlmock.NewResult(0, 0))

		claimed, err := m.Claim(context.Background(), "rem_1")
		require.NoError(t, err)
		assert.False(t, claimed)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkSentRequiresClaim(t *testing.T) {
	gdb, mock := setupMockDB(t)
	m := testReminderManager(gdb)

	mock.ExpectExec(`UPDATE "reminders" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := m.MarkSent(context.Background(), "rem_1", time.Now())
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedRecordsError(t *testing.T) {
	gdb, mock := setupMockDB(t)
	m := testReminderManager(gdb)

	mock.ExpectExec(`UPDATE "reminders" SET`).
		WithArgs("smtp: timeout", "FAILED", sqlmock.AnyArg(), "rem_1", "IN_PROGRESS").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := m.MarkFailed(context.Background(), "rem_1", fmt.Errorf("smtp: timeout"))
	assert.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
