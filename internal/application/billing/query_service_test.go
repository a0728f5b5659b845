package billing

import (
	"context"
	"testing"
	"time"

	"github.com/clinic/backend/internal/domain/billing"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryService(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	queries := NewQueryService(f.repo)

	// Settle the fixture invoice and open a second one for another
	// patient, half paid.
	_, err := f.payments.SubmitPayment(ctx, SubmitPaymentRequest{
		InvoiceID:  f.invoice.ID,
		Amount:     decimal.NewFromInt(100),
		Method:     billing.PaymentMethodCash,
		ReceivedBy: uuid.New(),
	})
	require.NoError(t, err)

	otherPatient := uuid.New()
	second, err := billing.NewInvoice("INV-20260829-00002", otherPatient, nil,
		[]billing.LineItemInput{
			{Description: "X-ray", Quantity: 1, UnitPrice: decimal.NewFromInt(80)},
		},
		decimal.Zero, decimal.Zero, nil, uuid.New())
	require.NoError(t, err)
	second.ClearDomainEvents()
	require.NoError(t, f.repo.Save(ctx, second))

	_, err = f.payments.SubmitPayment(ctx, SubmitPaymentRequest{
		InvoiceID:  second.ID,
		Amount:     decimal.NewFromInt(30),
		Method:     billing.PaymentMethodCash,
		ReceivedBy: uuid.New(),
	})
	require.NoError(t, err)

	t.Run("revenue for period", func(t *testing.T) {
		report, err := queries.RevenueForPeriod(ctx,
			time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, report.Revenue.Equal(decimal.NewFromInt(130)),
			"revenue %s", report.Revenue)
	})

	t.Run("revenue excludes payments outside the window", func(t *testing.T) {
		report, err := queries.RevenueForPeriod(ctx,
			time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.True(t, report.Revenue.IsZero())
	})

	t.Run("rejects inverted period", func(t *testing.T) {
		_, err := queries.RevenueForPeriod(ctx, time.Now(), time.Now().Add(-time.Hour))
		require.Error(t, err)
		assert.Equal(t, "INVALID_INPUT", shared.ErrorCode(err))
	})

	t.Run("outstanding balance across all patients", func(t *testing.T) {
		total, err := queries.OutstandingBalance(ctx, nil)
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(50)), "outstanding %s", total)
	})

	t.Run("outstanding balance per patient", func(t *testing.T) {
		total, err := queries.OutstandingBalance(ctx, &otherPatient)
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(50)))

		settled := f.invoice.PatientID
		total, err = queries.OutstandingBalance(ctx, &settled)
		require.NoError(t, err)
		assert.True(t, total.IsZero())
	})

	t.Run("count by status", func(t *testing.T) {
		breakdown, err := queries.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), breakdown.Paid)
		assert.Equal(t, int64(1), breakdown.Partial)
		assert.Equal(t, int64(0), breakdown.Pending)
		assert.Equal(t, int64(2), breakdown.Total)
	})

	t.Run("refund reduces revenue", func(t *testing.T) {
		stored, err := f.repo.FindByID(ctx, second.ID)
		require.NoError(t, err)
		paymentID := stored.Payments[0].ID

		_, err = f.refunds.RefundPayment(ctx, RefundPaymentRequest{
			InvoiceID:   second.ID,
			PaymentID:   paymentID,
			Amount:      decimal.NewFromInt(30),
			Reason:      "visit cancelled",
			RequestedBy: uuid.New(),
		})
		require.NoError(t, err)

		report, err := queries.RevenueForPeriod(ctx,
			time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, report.Revenue.Equal(decimal.NewFromInt(100)),
			"revenue %s", report.Revenue)
	})

	t.Run("invoices for period", func(t *testing.T) {
		invoices, err := queries.InvoicesForPeriod(ctx,
			time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, invoices, 2)

		invoices, err = queries.InvoicesForPeriod(ctx,
			time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, invoices)

		_, err = queries.InvoicesForPeriod(ctx, time.Now(), time.Now().Add(-time.Hour))
		assert.Equal(t, "INVALID_INPUT", shared.ErrorCode(err))
	})

	t.Run("invoices awaiting confirmation", func(t *testing.T) {
		invoices, err := queries.InvoicesAwaitingConfirmation(ctx)
		require.NoError(t, err)
		assert.Empty(t, invoices)

		third, err := billing.NewInvoice("INV-20260829-00003", uuid.New(), nil,
			[]billing.LineItemInput{
				{Description: "MRI scan", Quantity: 1, UnitPrice: decimal.NewFromInt(200)},
			},
			decimal.Zero, decimal.Zero, nil, uuid.New())
		require.NoError(t, err)
		third.ClearDomainEvents()
		require.NoError(t, f.repo.Save(ctx, third))

		_, err = f.payments.SubmitPayment(ctx, SubmitPaymentRequest{
			InvoiceID:  third.ID,
			Amount:     decimal.NewFromInt(200),
			Method:     billing.PaymentMethodInsurance,
			ReceivedBy: uuid.New(),
		})
		require.NoError(t, err)

		invoices, err = queries.InvoicesAwaitingConfirmation(ctx)
		require.NoError(t, err)
		require.Len(t, invoices, 1)
		assert.Equal(t, third.ID, invoices[0].ID)
	})
}
