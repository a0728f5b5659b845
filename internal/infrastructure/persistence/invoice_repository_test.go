package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clinic/backend/internal/domain/billing"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupInvoiceTestDB creates an in-memory SQLite database for testing
func setupInvoiceTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.InvoiceModel{}))
	return db
}

func newStoredInvoice(t *testing.T, repo *GormInvoiceRepository, number string) *billing.Invoice {
	t.Helper()
	inv, err := billing.NewInvoice(number, uuid.New(), nil,
		[]billing.LineItemInput{
			{Description: "Consultation", Quantity: 1, UnitPrice: decimal.NewFromInt(100)},
		},
		decimal.Zero, decimal.Zero, nil, uuid.New())
	require.NoError(t, err)
	inv.ClearDomainEvents()
	require.NoError(t, repo.Save(context.Background(), inv))
	return inv
}

func TestGormInvoiceRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))
	inv := newStoredInvoice(t, repo, "INV-20260829-00001")

	t.Run("find by id", func(t *testing.T) {
		found, err := repo.FindByID(ctx, inv.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, inv.InvoiceNumber, found.InvoiceNumber)
		assert.True(t, found.Total.Equal(decimal.NewFromInt(100)))
		assert.Len(t, found.Items, 1)
		assert.Equal(t, 1, found.Version)
	})

	t.Run("find by number", func(t *testing.T) {
		found, err := repo.FindByInvoiceNumber(ctx, inv.InvoiceNumber)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, inv.ID, found.ID)
	})

	t.Run("missing invoice is nil", func(t *testing.T) {
		found, err := repo.FindByID(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("payment history round-trips", func(t *testing.T) {
		payment, err := billing.NewPayment(inv.ID, decimal.NewFromInt(40),
			billing.PaymentMethodCash, billing.PaymentStatusCompleted, "", uuid.New())
		require.NoError(t, err)
		require.NoError(t, inv.ApplyPayment(payment))
		inv.ClearDomainEvents()
		require.NoError(t, repo.SaveWithLock(ctx, inv))

		found, err := repo.FindByID(ctx, inv.ID)
		require.NoError(t, err)
		require.Len(t, found.Payments, 1)
		assert.Equal(t, payment.ID, found.Payments[0].ID)
		assert.True(t, found.PaidAmount.Equal(decimal.NewFromInt(40)))
		assert.Equal(t, billing.InvoiceStatusPartial, found.Status)
		assert.Equal(t, 2, found.Version)
	})
}

func TestGormInvoiceRepository_SaveWithLock(t *testing.T) {
	ctx := context.Background()
	repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))
	inv := newStoredInvoice(t, repo, "INV-20260829-00001")

	t.Run("version conflict is rejected", func(t *testing.T) {
		first, err := repo.FindByID(ctx, inv.ID)
		require.NoError(t, err)
		second, err := repo.FindByID(ctx, inv.ID)
		require.NoError(t, err)

		require.NoError(t, first.ApplyDiscount(decimal.NewFromInt(10), uuid.New()))
		require.NoError(t, repo.SaveWithLock(ctx, first))

		require.NoError(t, second.ApplyDiscount(decimal.NewFromInt(20), uuid.New()))
		err = repo.SaveWithLock(ctx, second)
		require.Error(t, err)
		assert.Equal(t, "CONCURRENCY_CONFLICT", shared.ErrorCode(err))

		stored, err := repo.FindByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.True(t, stored.Discount.Equal(decimal.NewFromInt(10)))
	})
}

func TestGormInvoiceRepository_Queries(t *testing.T) {
	ctx := context.Background()
	repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))

	open := newStoredInvoice(t, repo, "INV-20260829-00001")
	settled := newStoredInvoice(t, repo, "INV-20260829-00002")

	payment, err := billing.NewPayment(settled.ID, decimal.NewFromInt(100),
		billing.PaymentMethodCash, billing.PaymentStatusCompleted, "", uuid.New())
	require.NoError(t, err)
	require.NoError(t, settled.ApplyPayment(payment))
	settled.ClearDomainEvents()
	require.NoError(t, repo.SaveWithLock(ctx, settled))

	t.Run("count by status", func(t *testing.T) {
		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[billing.InvoiceStatusPending])
		assert.Equal(t, int64(1), counts[billing.InvoiceStatusPaid])
	})

	t.Run("sum outstanding", func(t *testing.T) {
		total, err := repo.SumOutstanding(ctx, nil)
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(100)), "outstanding %s", total)
	})

	t.Run("sum outstanding per patient", func(t *testing.T) {
		total, err := repo.SumOutstanding(ctx, &open.PatientID)
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(100)))

		total, err = repo.SumOutstanding(ctx, &settled.PatientID)
		require.NoError(t, err)
		assert.True(t, total.IsZero())
	})

	t.Run("find by patient", func(t *testing.T) {
		result, err := repo.FindByPatient(ctx, open.PatientID, shared.DefaultFilter())
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Total)
	})

	t.Run("find all filtered by status", func(t *testing.T) {
		paid := billing.InvoiceStatusPaid
		result, err := repo.FindAll(ctx, &paid, shared.DefaultFilter())
		require.NoError(t, err)
		require.Equal(t, int64(1), result.Total)
		assert.Equal(t, settled.ID, result.Items[0].ID)
	})

	t.Run("find by period", func(t *testing.T) {
		invoices, err := repo.FindByPeriod(ctx,
			time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, invoices, 2)
	})
}

func TestGormInvoiceRepository_GenerateInvoiceNumber(t *testing.T) {
	ctx := context.Background()
	repo := NewGormInvoiceRepository(setupInvoiceTestDB(t))
	date := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	first, err := repo.GenerateInvoiceNumber(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, "INV-20260829-00001", first)

	newStoredInvoice(t, repo, first)

	second, err := repo.GenerateInvoiceNumber(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, "INV-20260829-00002", second)
}

// newMockInvoiceRepository creates a repository backed by sqlmock for
// queries that need Postgres JSONB support
func newMockInvoiceRepository(t *testing.T) (*GormInvoiceRepository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormInvoiceRepository(gormDB), mock, mockDB
}

func TestGormInvoiceRepository_SumRevenueForPeriod(t *testing.T) {
	repo, mock, mockDB := newMockInvoiceRepository(t)
	defer mockDB.Close()

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(.*\), 0\) AS total\s+FROM invoices, jsonb_array_elements\(payments\) AS p`).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow("1250.00"))

	total, err := repo.SumRevenueForPeriod(context.Background(), from, to)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromFloat(1250)), "total %s", total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
