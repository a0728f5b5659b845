package billing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod represents the channel a payment was made through
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodInsurance    PaymentMethod = "insurance"
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// IsValid checks if the payment method is valid
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodInsurance,
		PaymentMethodMobileMoney, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// String returns the string representation of PaymentMethod
func (m PaymentMethod) String() string {
	return string(m)
}

// IsImmediate returns true if the method confirms synchronously at the
// point of sale. Insurance claims and bank transfers settle out-of-band.
func (m PaymentMethod) IsImmediate() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMobileMoney:
		return true
	}
	return false
}

// SupportsPartialRefund returns true if the method's gateway can reverse
// less than the original amount
func (m PaymentMethod) SupportsPartialRefund() bool {
	return m == PaymentMethodCard || m == PaymentMethodMobileMoney
}

// PaymentStatus represents the lifecycle state of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether moving to the target status is a legal
// lifecycle transition. pending -> completed|failed, completed -> refunded;
// nothing else.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return target == PaymentStatusCompleted || target == PaymentStatusFailed
	case PaymentStatusCompleted:
		return target == PaymentStatusRefunded
	}
	return false
}

// Payment represents one money-movement event against an invoice.
// It is a value object within the Invoice aggregate, stored as JSONB.
type Payment struct {
	ID             uuid.UUID       `json:"id"`
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	Amount         decimal.Decimal `json:"amount"`
	Method         PaymentMethod   `json:"method"`
	Status         PaymentStatus   `json:"status"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	PaidAt         time.Time       `json:"paid_at"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
	ReceivedBy     uuid.UUID       `json:"received_by"`
}

// Payments is the append-only payment history of an invoice, stored as a
// JSONB column
type Payments []Payment

// Value implements driver.Valuer for JSONB storage
func (p Payments) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB retrieval
func (p *Payments) Scan(value interface{}) error {
	if value == nil {
		*p = Payments{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan Payments: unsupported type")
	}

	if len(bytes) == 0 {
		*p = Payments{}
		return nil
	}

	return json.Unmarshal(bytes, p)
}

// NewPayment creates a payment record in the given initial status.
// The initial status must be pending or completed, depending on the
// method's confirmation path.
func NewPayment(
	invoiceID uuid.UUID,
	amount decimal.Decimal,
	method PaymentMethod,
	status PaymentStatus,
	transactionID string,
	receivedBy uuid.UUID,
) (*Payment, error) {
	if invoiceID == uuid.Nil {
		return nil, shared.NewDomainError("INVOICE_NOT_FOUND", "Invoice ID cannot be empty")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if !method.IsValid() {
		return nil, shared.NewDomainError("UNSUPPORTED_PAYMENT_METHOD",
			fmt.Sprintf("Unsupported payment method: %s", method))
	}
	if status != PaymentStatusPending && status != PaymentStatusCompleted {
		return nil, shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Payment cannot be created in %s status", status))
	}
	if receivedBy == uuid.Nil {
		return nil, shared.ErrUnauthorized
	}

	return &Payment{
		ID:             uuid.New(),
		InvoiceID:      invoiceID,
		Amount:         amount,
		Method:         method,
		Status:         status,
		TransactionID:  transactionID,
		RefundedAmount: decimal.Zero,
		PaidAt:         time.Now(),
		ReceivedBy:     receivedBy,
	}, nil
}

// IsCompleted returns true if the payment settled successfully
func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

// IsPending returns true if the payment awaits external confirmation
func (p *Payment) IsPending() bool {
	return p.Status == PaymentStatusPending
}

// EffectiveAmount returns the amount this payment contributes to
// paidAmount: the settled amount minus anything refunded back.
func (p *Payment) EffectiveAmount() decimal.Decimal {
	switch p.Status {
	case PaymentStatusCompleted:
		return p.Amount.Sub(p.RefundedAmount)
	default:
		return decimal.Zero
	}
}

// Complete marks a pending payment as settled
func (p *Payment) Complete(transactionID string) error {
	if !p.Status.CanTransitionTo(PaymentStatusCompleted) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot complete payment in %s status", p.Status))
	}
	p.Status = PaymentStatusCompleted
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	p.PaidAt = time.Now()
	return nil
}

// Fail marks a pending payment as failed with a reason
func (p *Payment) Fail(reason string) error {
	if !p.Status.CanTransitionTo(PaymentStatusFailed) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot fail payment in %s status", p.Status))
	}
	p.Status = PaymentStatusFailed
	p.FailureReason = reason
	return nil
}

// Refund records a reversal against a completed payment. A partial
// reversal leaves the payment completed with a reduced effective amount;
// once the full amount is reversed the payment becomes refunded.
func (p *Payment) Refund(amount decimal.Decimal) error {
	if p.Status != PaymentStatusCompleted {
		return shared.NewDomainError("REFUND_NOT_ALLOWED",
			fmt.Sprintf("Cannot refund payment in %s status", p.Status))
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_AMOUNT", "Refund amount must be positive")
	}
	remaining := p.Amount.Sub(p.RefundedAmount)
	if amount.GreaterThan(remaining) {
		return shared.NewDomainError("INVALID_AMOUNT",
			fmt.Sprintf("Refund amount %s exceeds refundable amount %s",
				amount.StringFixed(2), remaining.StringFixed(2)))
	}

	p.RefundedAmount = p.RefundedAmount.Add(amount)
	if p.RefundedAmount.Equal(p.Amount) {
		now := time.Now()
		p.Status = PaymentStatusRefunded
		p.RefundedAt = &now
	}
	return nil
}
