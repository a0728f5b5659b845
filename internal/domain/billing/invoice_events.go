package billing

import (
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type constants for the billing domain
const (
	EventTypeInvoiceCreated  = "billing.invoice.created"
	EventTypePaymentReceived = "billing.payment.received"
	EventTypePaymentPending  = "billing.payment.pending"
	EventTypePaymentRefunded = "billing.payment.refunded"
)

// InvoiceCreatedEvent is raised when a new invoice enters the ledger
type InvoiceCreatedEvent struct {
	shared.BaseDomainEvent
	InvoiceNumber string          `json:"invoice_number"`
	PatientID     uuid.UUID       `json:"patient_id"`
	Total         decimal.Decimal `json:"total"`
	ItemCount     int             `json:"item_count"`
}

// NewInvoiceCreatedEvent creates a new InvoiceCreatedEvent
func NewInvoiceCreatedEvent(inv *Invoice) *InvoiceCreatedEvent {
	return &InvoiceCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeInvoiceCreated, "Invoice", inv.ID),
		InvoiceNumber:   inv.InvoiceNumber,
		PatientID:       inv.PatientID,
		Total:           inv.Total,
		ItemCount:       len(inv.Items),
	}
}

// PaymentReceivedEvent is raised when a payment settles against an invoice
type PaymentReceivedEvent struct {
	shared.BaseDomainEvent
	InvoiceNumber string          `json:"invoice_number"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Balance       decimal.Decimal `json:"balance"`
	InvoiceStatus InvoiceStatus   `json:"invoice_status"`
}

// NewPaymentReceivedEvent creates a new PaymentReceivedEvent
func NewPaymentReceivedEvent(inv *Invoice, p *Payment) *PaymentReceivedEvent {
	return &PaymentReceivedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentReceived, "Invoice", inv.ID),
		InvoiceNumber:   inv.InvoiceNumber,
		PaymentID:       p.ID,
		Amount:          p.Amount,
		Method:          p.Method,
		PaidAmount:      inv.PaidAmount,
		Balance:         inv.Balance,
		InvoiceStatus:   inv.Status,
	}
}

// PaymentPendingEvent is raised when a payment is recorded but awaits
// out-of-band confirmation
type PaymentPendingEvent struct {
	shared.BaseDomainEvent
	InvoiceNumber string          `json:"invoice_number"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
}

// NewPaymentPendingEvent creates a new PaymentPendingEvent
func NewPaymentPendingEvent(inv *Invoice, p *Payment) *PaymentPendingEvent {
	return &PaymentPendingEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentPending, "Invoice", inv.ID),
		InvoiceNumber:   inv.InvoiceNumber,
		PaymentID:       p.ID,
		Amount:          p.Amount,
		Method:          p.Method,
	}
}

// PaymentRefundedEvent is raised when a refund reversal is applied
type PaymentRefundedEvent struct {
	shared.BaseDomainEvent
	InvoiceNumber string          `json:"invoice_number"`
	PaymentID     uuid.UUID       `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	InvoiceStatus InvoiceStatus   `json:"invoice_status"`
}

// NewPaymentRefundedEvent creates a new PaymentRefundedEvent
func NewPaymentRefundedEvent(inv *Invoice, p *Payment, amount decimal.Decimal, reason string) *PaymentRefundedEvent {
	return &PaymentRefundedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePaymentRefunded, "Invoice", inv.ID),
		InvoiceNumber:   inv.InvoiceNumber,
		PaymentID:       p.ID,
		Amount:          amount,
		Reason:          reason,
		PaidAmount:      inv.PaidAmount,
		InvoiceStatus:   inv.Status,
	}
}
