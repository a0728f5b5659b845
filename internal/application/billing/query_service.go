package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/clinic/backend/internal/domain/billing"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QueryService answers read-only reporting questions about the ledger.
// Every figure is derived from stored invoices at query time; nothing is
// cached or accumulated separately.
type QueryService struct {
	invoiceRepo billing.InvoiceRepository
}

// NewQueryService creates a new QueryService
func NewQueryService(invoiceRepo billing.InvoiceRepository) *QueryService {
	return &QueryService{invoiceRepo: invoiceRepo}
}

// RevenueReport summarizes settled payment volume for a period
type RevenueReport struct {
	From    time.Time       `json:"from"`
	To      time.Time       `json:"to"`
	Revenue decimal.Decimal `json:"revenue"`
}

// RevenueForPeriod returns payment volume received within [from, to),
// net of refunds
func (s *QueryService) RevenueForPeriod(ctx context.Context, from, to time.Time) (*RevenueReport, error) {
	if !to.After(from) {
		return nil, shared.NewDomainError("INVALID_INPUT", "Period end must be after period start")
	}

	revenue, err := s.invoiceRepo.SumRevenueForPeriod(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to sum revenue: %w", err)
	}
	return &RevenueReport{From: from, To: to, Revenue: revenue}, nil
}

// OutstandingBalance returns the total unpaid balance across unsettled
// invoices. When patientID is non-nil the figure covers that patient only.
func (s *QueryService) OutstandingBalance(ctx context.Context, patientID *uuid.UUID) (decimal.Decimal, error) {
	total, err := s.invoiceRepo.SumOutstanding(ctx, patientID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum outstanding balance: %w", err)
	}
	return total, nil
}

// InvoicesForPeriod returns the invoices created within [from, to),
// for end-of-day and period reconciliation
func (s *QueryService) InvoicesForPeriod(ctx context.Context, from, to time.Time) ([]*billing.Invoice, error) {
	if !to.After(from) {
		return nil, shared.NewDomainError("INVALID_INPUT", "Period end must be after period start")
	}

	invoices, err := s.invoiceRepo.FindByPeriod(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices for period: %w", err)
	}
	return invoices, nil
}

// InvoicesAwaitingConfirmation returns invoices that still carry
// payments pending an out-of-band insurer or bank settlement result
func (s *QueryService) InvoicesAwaitingConfirmation(ctx context.Context) ([]*billing.Invoice, error) {
	invoices, err := s.invoiceRepo.FindWithPendingPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices with pending payments: %w", err)
	}
	return invoices, nil
}

// StatusBreakdown is the invoice count per settlement status
type StatusBreakdown struct {
	Pending int64 `json:"pending"`
	Partial int64 `json:"partial"`
	Paid    int64 `json:"paid"`
	Total   int64 `json:"total"`
}

// CountByStatus returns the number of invoices in each settlement status
func (s *QueryService) CountByStatus(ctx context.Context) (*StatusBreakdown, error) {
	counts, err := s.invoiceRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count invoices: %w", err)
	}

	breakdown := &StatusBreakdown{
		Pending: counts[billing.InvoiceStatusPending],
		Partial: counts[billing.InvoiceStatusPartial],
		Paid:    counts[billing.InvoiceStatusPaid],
	}
	breakdown.Total = breakdown.Pending + breakdown.Partial + breakdown.Paid
	return breakdown, nil
}
