package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/clinic/backend/internal/domain/billing"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService handles invoice lifecycle operations
type InvoiceService struct {
	invoiceRepo billing.InvoiceRepository
	eventBus    shared.EventPublisher
	taxRate     decimal.Decimal
	logger      *zap.Logger
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	invoiceRepo billing.InvoiceRepository,
	eventBus shared.EventPublisher,
	taxRate decimal.Decimal,
	logger *zap.Logger,
) *InvoiceService {
	return &InvoiceService{
		invoiceRepo: invoiceRepo,
		eventBus:    eventBus,
		taxRate:     taxRate,
		logger:      logger,
	}
}

// CreateInvoiceRequest represents a request to create an invoice
type CreateInvoiceRequest struct {
	PatientID uuid.UUID
	VisitID   *uuid.UUID
	Items     []billing.LineItemInput
	Discount  decimal.Decimal
	DueDate   *time.Time
	CreatedBy uuid.UUID
}

// CreateInvoice creates an invoice for a patient visit. The invoice
// number is generated per-day and totals are derived from the line items.
func (s *InvoiceService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*billing.Invoice, error) {
	number, err := s.invoiceRepo.GenerateInvoiceNumber(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to generate invoice number: %w", err)
	}

	invoice, err := billing.NewInvoice(
		number, req.PatientID, req.VisitID,
		req.Items, s.taxRate, req.Discount, req.DueDate, req.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.Save(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.publishEvents(ctx, invoice)

	s.logger.Info("invoice created",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("patient_id", invoice.PatientID.String()),
		zap.String("total", invoice.Total.StringFixed(2)),
	)
	return invoice, nil
}

// GetInvoice retrieves an invoice by ID
func (s *InvoiceService) GetInvoice(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	if invoice == nil {
		return nil, shared.NewDomainError("INVOICE_NOT_FOUND", "Invoice not found")
	}
	return invoice, nil
}

// GetInvoiceByNumber retrieves an invoice by its human-readable number
func (s *InvoiceService) GetInvoiceByNumber(ctx context.Context, number string) (*billing.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByInvoiceNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	if invoice == nil {
		return nil, shared.NewDomainError("INVOICE_NOT_FOUND", "Invoice not found")
	}
	return invoice, nil
}

// ListInvoices retrieves invoices with pagination, optionally filtered
// by status
func (s *InvoiceService) ListInvoices(ctx context.Context, status *billing.InvoiceStatus, filter shared.Filter) (shared.Paginated[*billing.Invoice], error) {
	return s.invoiceRepo.FindAll(ctx, status, filter)
}

// ListPatientInvoices retrieves invoices for one patient
func (s *InvoiceService) ListPatientInvoices(ctx context.Context, patientID uuid.UUID, filter shared.Filter) (shared.Paginated[*billing.Invoice], error) {
	return s.invoiceRepo.FindByPatient(ctx, patientID, filter)
}

// ApplyDiscount replaces the invoice discount
func (s *InvoiceService) ApplyDiscount(ctx context.Context, invoiceID uuid.UUID, discount decimal.Decimal, appliedBy uuid.UUID) (*billing.Invoice, error) {
	invoice, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := invoice.ApplyDiscount(discount, appliedBy); err != nil {
		return nil, err
	}

	if err := s.invoiceRepo.SaveWithLock(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.publishEvents(ctx, invoice)
	return invoice, nil
}

func (s *InvoiceService) publishEvents(ctx context.Context, invoice *billing.Invoice) {
	events := invoice.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := s.eventBus.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish invoice events",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	}
	invoice.ClearDomainEvents()
}
