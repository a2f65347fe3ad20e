package subscription

import (
	"context"
	"testing"

	"github.com/minifleet/minifleet/company"
	"github.com/minifleet/minifleet/plan"

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

func testManager(gdb *gorm.DB) *Manager {
	return &Manager{
		ManagerOptions: ManagerOptions{
			DB:          gdb,
			PlanManager: &plan.Manager{},
			Logger:      zap.NewNop(),
		},
	}
}

// expectReconcileUpdate expects the statement sequence of a reconciliation
// pass that finds an existing local subscription row
func expectReconcileUpdate(mock sqlmock.Sqlmock, companyID string) {
	mock.ExpectQuery(`SELECT \* FROM "companies" WHERE id = \$1`).
		WithArgs(companyID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_status", "subscription_plan_id"}).
			AddRow(companyID, "TRIAL", "plan_1"))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "companies" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE company_id = \$1`).
		WithArgs(companyID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id"}).
			AddRow("local_sub_1", companyID))
	mock.ExpectExec(`UPDATE "subscriptions" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestReconcileCreatesLocalRecord(t *testing.T) {
	gdb, mock := setupMockDB(t)
	m := testManager(gdb)

	companyID := "comp_1"

	mock.ExpectQuery(`SELECT \* FROM "companies" WHERE id = \$1`).
		WithArgs(companyID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_status", "subscription_plan_id"}).
			AddRow(companyID, "TRIAL", "plan_1"))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "companies" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// no local record yet
	mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE company_id = \$1`).
		WithArgs(companyID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id"}))
	mock.ExpectExec(`INSERT INTO "subscriptions"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := m.Reconcile(context.Background(), companyID, Snapshot{
		Status:               company.StatusActive,
		StripeSubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileIsIdempotent(t *testing.T) {
	gdb, mock := setupMockDB(t)
	m := testManager(gdb)

	companyID := "comp_1"
	snap := Snapshot{
		Status:               company.StatusActive,
		StripeSubscriptionID: "sub_123",
	}

	// applying the same snapshot twice issues the exact same statement
	// sequence, with no inserts or other accumulating side effects
	expectReconcileUpdate(mock, companyID)
	expectReconcileUpdate(mock, companyID)

	require.NoError(t, m.Reconcile(context.Background(), companyID, snap))
	require.NoError(t, m.Reconcile(context.Background(), companyID, snap))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutSessionParamsStampCompanyID(t *testing.T) {
	params := checkoutSessionParams(context.Background(), "cus_123", CheckoutOption{
		CompanyID:  "comp_1",
		PriceID:    "price_basic",
		SuccessURL: "https://app.fleet.test/billing/success",
		CancelURL:  "https://app.fleet.test/billing/cancel",
	})

	assert.Equal(t, "comp_1", params.Metadata["companyId"])
	// the subscription created by checkout must carry the company id too,
	// it is the last-resort lookup when a webhook arrives for a customer
	// we have no local mapping for
	require.NotNil(t, params.SubscriptionData)
	assert.Equal(t, "comp_1", params.SubscriptionData.Metadata["companyId"])
}

func TestReconcileUnknownCompanyIsSkipped(t *testing.T) {
	gdb, mock := setupMockDB(t)
	m := testManager(gdb)

	mock.ExpectQuery(`SELECT \* FROM "companies" WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := m.Reconcile(context.Background(), "ghost", Snapshot{
		Status:               company.StatusCanceled,
		StripeSubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
