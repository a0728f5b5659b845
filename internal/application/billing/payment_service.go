package billing

import (
	"context"
	"fmt"

	"github.com/clinic/backend/internal/domain/billing"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// saveRetries bounds the reload-and-reapply loop on version conflicts.
// Conflicts are rare under the per-invoice lock; they come from
// out-of-band confirmations racing a submission.
const saveRetries = 3

// PaymentService orchestrates payment submission against invoices.
// Submission holds a per-invoice lock across validate, charge and apply
// so the invoice cannot settle between the balance check and the ledger
// write.
type PaymentService struct {
	invoiceRepo billing.InvoiceRepository
	executors   *billing.ExecutorRegistry
	eventBus    shared.EventPublisher
	locks       *InvoiceLocks
	logger      *zap.Logger
}

// NewPaymentService creates a new PaymentService. The lock registry must
// be the same instance handed to the refund service so reversals and
// submissions against one invoice serialize.
func NewPaymentService(
	invoiceRepo billing.InvoiceRepository,
	executors *billing.ExecutorRegistry,
	eventBus shared.EventPublisher,
	locks *InvoiceLocks,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		invoiceRepo: invoiceRepo,
		executors:   executors,
		eventBus:    eventBus,
		locks:       locks,
		logger:      logger,
	}
}

// SubmitPaymentRequest represents a payment submission
type SubmitPaymentRequest struct {
	InvoiceID  uuid.UUID
	Amount     decimal.Decimal
	Method     billing.PaymentMethod
	Reference  string
	ReceivedBy uuid.UUID
}

// SubmitPaymentResult reports the outcome of a submission. Deferred
// methods come back with the payment still pending.
type SubmitPaymentResult struct {
	PaymentID     uuid.UUID             `json:"payment_id"`
	TransactionID string                `json:"transaction_id,omitempty"`
	PaymentStatus billing.PaymentStatus `json:"payment_status"`
	InvoiceStatus billing.InvoiceStatus `json:"invoice_status"`
	PaidAmount    decimal.Decimal       `json:"paid_amount"`
	Balance       decimal.Decimal       `json:"balance"`
	Message       string                `json:"message,omitempty"`
}

// SubmitPayment validates the submission, executes the charge through
// the method's executor and records the outcome on the invoice.
// Immediate methods settle synchronously; insurance and bank transfer
// submissions are recorded as pending and resolved later through
// ConfirmPayment. The charge is never executed for a submission the
// ledger would reject.
func (s *PaymentService) SubmitPayment(ctx context.Context, req SubmitPaymentRequest) (*SubmitPaymentResult, error) {
	if req.ReceivedBy == uuid.Nil {
		return nil, shared.ErrUnauthorized
	}

	executor, err := s.executors.Resolve(req.Method)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.InvoiceID)
	defer unlock()

	invoice, err := s.loadInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	// Reject before any money moves.
	if err := s.validateSubmission(invoice, req.Amount); err != nil {
		return nil, err
	}

	chargeResult, err := executor.Charge(ctx, billing.ChargeRequest{
		InvoiceID:     invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		PatientID:     invoice.PatientID,
		Amount:        req.Amount,
		Reference:     req.Reference,
	})
	if err != nil {
		s.logger.Warn("payment charge failed",
			zap.String("invoice_number", invoice.InvoiceNumber),
			zap.String("method", req.Method.String()),
			zap.Error(err),
		)
		return nil, err
	}

	payment, err := billing.NewPayment(
		invoice.ID, req.Amount, req.Method,
		chargeResult.Status, chargeResult.TransactionID, req.ReceivedBy,
	)
	if err != nil {
		return nil, err
	}

	apply := func(inv *billing.Invoice) error {
		if payment.IsPending() {
			return inv.AppendPendingPayment(payment)
		}
		return inv.ApplyPayment(payment)
	}
	invoice, err = s.saveWithRetry(ctx, invoice, apply)
	if err != nil {
		return nil, err
	}

	s.publishEvents(ctx, invoice)

	s.logger.Info("payment recorded",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("payment_id", payment.ID.String()),
		zap.String("method", req.Method.String()),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("status", payment.Status.String()),
	)

	return &SubmitPaymentResult{
		PaymentID:     payment.ID,
		TransactionID: chargeResult.TransactionID,
		PaymentStatus: payment.Status,
		InvoiceStatus: invoice.Status,
		PaidAmount:    invoice.PaidAmount,
		Balance:       invoice.Balance,
		Message:       chargeResult.Message,
	}, nil
}

// ConfirmPaymentRequest resolves a pending payment once the settlement
// result arrives from the insurer or bank
type ConfirmPaymentRequest struct {
	InvoiceID     uuid.UUID
	PaymentID     uuid.UUID
	Succeeded     bool
	TransactionID string
	FailureReason string
}

// ConfirmPayment applies the out-of-band settlement result for a pending
// payment
func (s *PaymentService) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (*billing.Invoice, error) {
	unlock := s.locks.Lock(req.InvoiceID)
	defer unlock()

	invoice, err := s.loadInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	var confirmErr error
	invoice, err = s.saveWithRetry(ctx, invoice, func(inv *billing.Invoice) error {
		confirmErr = inv.ConfirmPayment(req.PaymentID, req.Succeeded, req.TransactionID, req.FailureReason)
		// A late confirmation still mutated the payment to failed, so
		// the aggregate must be persisted even though the operation
		// reports an error to the caller.
		if confirmErr != nil && shared.ErrorCode(confirmErr) != "INVOICE_ALREADY_PAID" {
			return confirmErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvents(ctx, invoice)

	if confirmErr != nil {
		return invoice, confirmErr
	}

	s.logger.Info("pending payment resolved",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("payment_id", req.PaymentID.String()),
		zap.Bool("succeeded", req.Succeeded),
	)
	return invoice, nil
}

// GetPayment retrieves a single payment from an invoice
func (s *PaymentService) GetPayment(ctx context.Context, invoiceID, paymentID uuid.UUID) (*billing.Payment, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	payment := invoice.FindPayment(paymentID)
	if payment == nil {
		return nil, shared.NewDomainError("PAYMENT_NOT_FOUND", "Payment not found")
	}
	return payment, nil
}

func (s *PaymentService) loadInvoice(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	invoice, err := s.invoiceRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	if invoice == nil {
		return nil, shared.NewDomainError("INVOICE_NOT_FOUND", "Invoice not found")
	}
	return invoice, nil
}

func (s *PaymentService) validateSubmission(invoice *billing.Invoice, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if invoice.IsSettled() {
		return shared.NewDomainError("INVOICE_ALREADY_PAID",
			fmt.Sprintf("Invoice %s is already fully paid", invoice.InvoiceNumber))
	}
	if amount.GreaterThan(invoice.OutstandingBalance()) {
		return shared.NewDomainError("OVERPAYMENT_REJECTED",
			fmt.Sprintf("Payment amount %s exceeds outstanding balance %s",
				amount.StringFixed(2), invoice.OutstandingBalance().StringFixed(2)))
	}
	return nil
}

// saveWithRetry applies the mutation and persists the invoice, reloading
// and reapplying on a version conflict. The mutation must be safe to run
// against a fresh copy of the aggregate.
func (s *PaymentService) saveWithRetry(
	ctx context.Context,
	invoice *billing.Invoice,
	mutate func(*billing.Invoice) error,
) (*billing.Invoice, error) {
	for attempt := 0; ; attempt++ {
		if err := mutate(invoice); err != nil {
			return nil, err
		}

		err := s.invoiceRepo.SaveWithLock(ctx, invoice)
		if err == nil {
			return invoice, nil
		}
		if shared.ErrorCode(err) != "CONCURRENCY_CONFLICT" || attempt >= saveRetries-1 {
			return nil, err
		}

		s.logger.Debug("invoice version conflict, retrying",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Int("attempt", attempt+1),
		)
		invoice, err = s.loadInvoice(ctx, invoice.ID)
		if err != nil {
			return nil, err
		}
	}
}

func (s *PaymentService) publishEvents(ctx context.Context, invoice *billing.Invoice) {
	events := invoice.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := s.eventBus.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish payment events",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	}
	invoice.ClearDomainEvents()
}
