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

// RefundService handles reversals of settled payments
type RefundService struct {
	invoiceRepo billing.InvoiceRepository
	executors   *billing.ExecutorRegistry
	eventBus    shared.EventPublisher
	locks       *InvoiceLocks
	logger      *zap.Logger
}

// NewRefundService creates a new RefundService. The lock registry is
// shared with the payment service.
func NewRefundService(
	invoiceRepo billing.InvoiceRepository,
	executors *billing.ExecutorRegistry,
	eventBus shared.EventPublisher,
	locks *InvoiceLocks,
	logger *zap.Logger,
) *RefundService {
	return &RefundService{
		invoiceRepo: invoiceRepo,
		executors:   executors,
		eventBus:    eventBus,
		locks:       locks,
		logger:      logger,
	}
}

// RefundPaymentRequest represents a refund of a settled payment. A zero
// Amount means the full remaining payment amount.
type RefundPaymentRequest struct {
	InvoiceID   uuid.UUID
	PaymentID   uuid.UUID
	Amount      decimal.Decimal
	Reason      string
	RequestedBy uuid.UUID
}

// RefundPaymentResult reports the outcome of a refund
type RefundPaymentResult struct {
	PaymentID     uuid.UUID             `json:"payment_id"`
	RefundID      string                `json:"refund_id,omitempty"`
	Amount        decimal.Decimal       `json:"amount"`
	PaymentStatus billing.PaymentStatus `json:"payment_status"`
	InvoiceStatus billing.InvoiceStatus `json:"invoice_status"`
	PaidAmount    decimal.Decimal       `json:"paid_amount"`
	Balance       decimal.Decimal       `json:"balance"`
}

// RefundPayment reverses part or all of a completed payment. The reversal
// runs through the original payment channel first; only a successful
// channel refund is recorded on the ledger. Cash refunds have no channel
// and are recorded directly.
func (s *RefundService) RefundPayment(ctx context.Context, req RefundPaymentRequest) (*RefundPaymentResult, error) {
	if req.RequestedBy == uuid.Nil {
		return nil, shared.ErrUnauthorized
	}
	if req.Amount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Refund amount must be positive")
	}
	if req.Reason == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Refund reason is required")
	}

	unlock := s.locks.Lock(req.InvoiceID)
	defer unlock()

	invoice, err := s.invoiceRepo.FindByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	if invoice == nil {
		return nil, shared.NewDomainError("INVOICE_NOT_FOUND", "Invoice not found")
	}

	payment := invoice.FindPayment(req.PaymentID)
	if payment == nil {
		return nil, shared.NewDomainError("PAYMENT_NOT_FOUND", "Payment not found")
	}
	if !payment.IsCompleted() {
		return nil, shared.NewDomainError("REFUND_NOT_ALLOWED",
			fmt.Sprintf("Cannot refund payment in %s status", payment.Status))
	}
	remaining := payment.Amount.Sub(payment.RefundedAmount)
	amount := req.Amount
	if amount.IsZero() {
		amount = remaining
	}
	if amount.GreaterThan(remaining) {
		return nil, shared.NewDomainError("INVALID_AMOUNT",
			fmt.Sprintf("Refund amount %s exceeds refundable amount %s",
				amount.StringFixed(2), remaining.StringFixed(2)))
	}
	if amount.LessThan(remaining) && !payment.Method.SupportsPartialRefund() {
		return nil, shared.NewDomainError("REFUND_NOT_ALLOWED",
			fmt.Sprintf("Payment method %s only supports full refunds", payment.Method))
	}

	refundID, err := s.executeChannelRefund(ctx, payment, amount, req.Reason)
	if err != nil {
		return nil, err
	}

	if err := invoice.ApplyRefundReversal(req.PaymentID, amount, req.Reason); err != nil {
		return nil, err
	}
	if err := s.invoiceRepo.SaveWithLock(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to save invoice: %w", err)
	}

	s.publishEvents(ctx, invoice)

	payment = invoice.FindPayment(req.PaymentID)
	s.logger.Info("payment refunded",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("payment_id", req.PaymentID.String()),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("reason", req.Reason),
	)

	return &RefundPaymentResult{
		PaymentID:     payment.ID,
		RefundID:      refundID,
		Amount:        amount,
		PaymentStatus: payment.Status,
		InvoiceStatus: invoice.Status,
		PaidAmount:    invoice.PaidAmount,
		Balance:       invoice.Balance,
	}, nil
}

// executeChannelRefund pushes the reversal through the original payment
// channel. Cash is returned over the counter, so no channel call is made.
func (s *RefundService) executeChannelRefund(ctx context.Context, payment *billing.Payment, amount decimal.Decimal, reason string) (string, error) {
	if payment.Method == billing.PaymentMethodCash {
		return "", nil
	}

	refunder, err := s.executors.ResolveRefund(payment.Method)
	if err != nil {
		return "", err
	}

	result, err := refunder.Refund(ctx, billing.RefundRequest{
		TransactionID: payment.TransactionID,
		PaymentID:     payment.ID,
		Amount:        amount,
		Reason:        reason,
	})
	if err != nil {
		s.logger.Warn("channel refund failed",
			zap.String("payment_id", payment.ID.String()),
			zap.String("method", payment.Method.String()),
			zap.Error(err),
		)
		return "", err
	}
	return result.RefundID, nil
}

func (s *RefundService) publishEvents(ctx context.Context, invoice *billing.Invoice) {
	events := invoice.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := s.eventBus.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish refund events",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	}
	invoice.ClearDomainEvents()
}
