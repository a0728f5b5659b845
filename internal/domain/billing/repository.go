package billing

import (
	"context"
	"time"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceRepository is the persistence port for the invoice aggregate
type InvoiceRepository interface {
	// FindByID retrieves an invoice by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// FindByInvoiceNumber retrieves an invoice by its human-readable number
	FindByInvoiceNumber(ctx context.Context, number string) (*Invoice, error)

	// FindByPatient retrieves invoices for a patient with pagination
	FindByPatient(ctx context.Context, patientID uuid.UUID, filter shared.Filter) (shared.Paginated[*Invoice], error)

	// FindAll retrieves invoices with pagination, optionally filtered by status
	FindAll(ctx context.Context, status *InvoiceStatus, filter shared.Filter) (shared.Paginated[*Invoice], error)

	// FindByPeriod retrieves invoices created within [from, to)
	FindByPeriod(ctx context.Context, from, to time.Time) ([]*Invoice, error)

	// FindWithPendingPayments retrieves invoices that have payments awaiting
	// out-of-band confirmation
	FindWithPendingPayments(ctx context.Context) ([]*Invoice, error)

	// Save persists a new invoice
	Save(ctx context.Context, invoice *Invoice) error

	// SaveWithLock persists invoice changes with optimistic concurrency
	// control. It returns a CONCURRENCY_CONFLICT error if the stored
	// version no longer matches.
	SaveWithLock(ctx context.Context, invoice *Invoice) error

	// CountByStatus returns the number of invoices per status
	CountByStatus(ctx context.Context) (map[InvoiceStatus]int64, error)

	// SumOutstanding returns the total unpaid balance across unsettled
	// invoices, optionally restricted to one patient
	SumOutstanding(ctx context.Context, patientID *uuid.UUID) (decimal.Decimal, error)

	// SumRevenueForPeriod returns the settled payment volume received
	// within [from, to), net of refunds
	SumRevenueForPeriod(ctx context.Context, from, to time.Time) (decimal.Decimal, error)

	// GenerateInvoiceNumber produces the next invoice number for the
	// given day, e.g. INV-20260829-00042
	GenerateInvoiceNumber(ctx context.Context, date time.Time) (string, error)
}
