package billing

import (
	"fmt"
	"time"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the settlement state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPartial, InvoiceStatusPaid:
		return true
	}
	return false
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// Invoice is the aggregate root for patient billing. Line items, charge
// totals and the full payment history live on the aggregate; paid amount,
// balance and status are derived fields recomputed from the payment
// sequence after every mutation, never adjusted incrementally.
type Invoice struct {
	shared.BaseAggregateRoot
	InvoiceNumber string          `json:"invoice_number"`
	PatientID     uuid.UUID       `json:"patient_id"`
	VisitID       *uuid.UUID      `json:"visit_id,omitempty"`
	Items         LineItems       `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Balance       decimal.Decimal `json:"balance"`
	Status        InvoiceStatus   `json:"status"`
	Payments      Payments        `json:"payments"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// NewInvoice creates an invoice from line item inputs. The tax amount is
// derived from the subtotal at the given rate and all monetary fields are
// recomputed before the aggregate is returned.
func NewInvoice(
	invoiceNumber string,
	patientID uuid.UUID,
	visitID *uuid.UUID,
	inputs []LineItemInput,
	taxRate decimal.Decimal,
	discount decimal.Decimal,
	dueDate *time.Time,
	createdBy uuid.UUID,
) (*Invoice, error) {
	if invoiceNumber == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Invoice number cannot be empty")
	}
	if patientID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_INPUT", "Patient ID cannot be empty")
	}
	if len(inputs) == 0 {
		return nil, shared.NewDomainError("EMPTY_INVOICE",
			"Invoice must contain at least one line item")
	}
	if taxRate.IsNegative() {
		return nil, shared.NewDomainError("INVALID_INPUT", "Tax rate cannot be negative")
	}
	if discount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Discount cannot be negative")
	}

	items, subtotal, err := CalculateLineItems(inputs)
	if err != nil {
		return nil, err
	}

	taxAmount := subtotal.Mul(taxRate).Round(4)
	if discount.GreaterThan(subtotal.Add(taxAmount)) {
		return nil, shared.NewDomainError("INVALID_AMOUNT",
			"Discount cannot exceed subtotal plus tax")
	}

	inv := &Invoice{
		BaseAggregateRoot: shared.NewBaseAggregateRootWithCreator(createdBy),
		InvoiceNumber:     invoiceNumber,
		PatientID:         patientID,
		VisitID:           visitID,
		Items:             items,
		Subtotal:          subtotal,
		TaxAmount:         taxAmount,
		Discount:          discount,
		Payments:          Payments{},
		DueDate:           dueDate,
	}
	inv.Recompute()

	inv.AddDomainEvent(NewInvoiceCreatedEvent(inv))
	return inv, nil
}

// Recompute derives total, paid amount, balance and status from the line
// items and the payment sequence. It is the single place derived state is
// produced: callers mutate the payment history and then fold.
func (i *Invoice) Recompute() {
	i.Total = i.Subtotal.Add(i.TaxAmount).Sub(i.Discount)

	paid := decimal.Zero
	for idx := range i.Payments {
		paid = paid.Add(i.Payments[idx].EffectiveAmount())
	}
	i.PaidAmount = paid
	i.Balance = i.Total.Sub(paid)

	switch {
	case paid.GreaterThanOrEqual(i.Total):
		// Zero-balance invoices count as settled, including the
		// degenerate fully-discounted case.
		i.Status = InvoiceStatusPaid
	case paid.IsZero():
		// A refund that zeroes the paid amount folds back to pending.
		i.Status = InvoiceStatusPending
	default:
		i.Status = InvoiceStatusPartial
	}
}

// IsSettled returns true if the invoice requires no further payment
func (i *Invoice) IsSettled() bool {
	return i.Status == InvoiceStatusPaid
}

// OutstandingBalance returns the amount still owed, never negative
func (i *Invoice) OutstandingBalance() decimal.Decimal {
	if i.Balance.IsNegative() {
		return decimal.Zero
	}
	return i.Balance
}

// ApplyDiscount replaces the invoice discount and refolds derived state.
// Discounts can only change while no money has moved; once a payment
// completed, changing the total would invalidate the balance the payment
// was validated against.
func (i *Invoice) ApplyDiscount(discount decimal.Decimal, appliedBy uuid.UUID) error {
	if discount.IsNegative() {
		return shared.NewDomainError("INVALID_AMOUNT", "Discount cannot be negative")
	}
	if discount.GreaterThan(i.Subtotal.Add(i.TaxAmount)) {
		return shared.NewDomainError("INVALID_AMOUNT",
			"Discount cannot exceed subtotal plus tax")
	}
	if i.IsSettled() {
		return shared.NewDomainError("INVOICE_ALREADY_PAID",
			"Cannot change discount on a settled invoice")
	}
	for idx := range i.Payments {
		p := &i.Payments[idx]
		if p.IsCompleted() || p.Status == PaymentStatusRefunded {
			return shared.NewDomainError("INVALID_STATE",
				"Cannot change discount after a payment has been taken")
		}
	}

	i.Discount = discount
	i.Recompute()
	i.IncrementVersion()
	return nil
}

// ApplyPayment records a completed payment against the invoice. The
// amount must not exceed the outstanding balance: overpayment is rejected
// rather than credited.
func (i *Invoice) ApplyPayment(payment *Payment) error {
	if payment == nil || !payment.IsCompleted() {
		return shared.NewDomainError("INVALID_STATE",
			"Only completed payments can be applied to an invoice")
	}
	if err := i.validatePaymentAmount(payment.Amount); err != nil {
		return err
	}

	i.Payments = append(i.Payments, *payment)
	i.Recompute()
	i.IncrementVersion()

	i.AddDomainEvent(NewPaymentReceivedEvent(i, payment))
	return nil
}

// AppendPendingPayment records a payment awaiting out-of-band
// confirmation. Pending payments do not contribute to the paid amount
// until confirmed, but they are validated against the balance up front so
// an obviously impossible claim is rejected at submission time.
func (i *Invoice) AppendPendingPayment(payment *Payment) error {
	if payment == nil || !payment.IsPending() {
		return shared.NewDomainError("INVALID_STATE",
			"Payment must be pending to await confirmation")
	}
	if err := i.validatePaymentAmount(payment.Amount); err != nil {
		return err
	}

	i.Payments = append(i.Payments, *payment)
	i.IncrementVersion()

	i.AddDomainEvent(NewPaymentPendingEvent(i, payment))
	return nil
}

func (i *Invoice) validatePaymentAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if i.IsSettled() {
		return shared.NewDomainError("INVOICE_ALREADY_PAID",
			fmt.Sprintf("Invoice %s is already fully paid", i.InvoiceNumber))
	}
	if amount.GreaterThan(i.OutstandingBalance()) {
		return shared.NewDomainError("OVERPAYMENT_REJECTED",
			fmt.Sprintf("Payment amount %s exceeds outstanding balance %s",
				amount.StringFixed(2), i.OutstandingBalance().StringFixed(2)))
	}
	return nil
}

// ConfirmPayment resolves a pending payment after its out-of-band
// settlement result arrives. A successful confirmation against an invoice
// that was settled in the meantime fails the payment instead of
// overcrediting.
func (i *Invoice) ConfirmPayment(paymentID uuid.UUID, succeeded bool, transactionID, failureReason string) error {
	payment := i.findPayment(paymentID)
	if payment == nil {
		return shared.NewDomainError("PAYMENT_NOT_FOUND",
			fmt.Sprintf("Payment %s not found on invoice %s", paymentID, i.InvoiceNumber))
	}
	if !payment.IsPending() {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Payment %s is not awaiting confirmation", paymentID))
	}

	if !succeeded {
		if err := payment.Fail(failureReason); err != nil {
			return err
		}
		i.Recompute()
		i.IncrementVersion()
		return nil
	}

	if i.IsSettled() || payment.Amount.GreaterThan(i.OutstandingBalance()) {
		if err := payment.Fail("invoice settled before confirmation arrived"); err != nil {
			return err
		}
		i.Recompute()
		i.IncrementVersion()
		return shared.NewDomainError("INVOICE_ALREADY_PAID",
			fmt.Sprintf("Invoice %s was settled before payment %s confirmed",
				i.InvoiceNumber, paymentID))
	}

	if err := payment.Complete(transactionID); err != nil {
		return err
	}
	i.Recompute()
	i.IncrementVersion()

	i.AddDomainEvent(NewPaymentReceivedEvent(i, payment))
	return nil
}

// ApplyRefundReversal reverses part or all of a completed payment and
// refolds derived state. The refund must already have been executed by
// the payment channel; this records its ledger effect.
func (i *Invoice) ApplyRefundReversal(paymentID uuid.UUID, amount decimal.Decimal, reason string) error {
	payment := i.findPayment(paymentID)
	if payment == nil {
		return shared.NewDomainError("PAYMENT_NOT_FOUND",
			fmt.Sprintf("Payment %s not found on invoice %s", paymentID, i.InvoiceNumber))
	}

	if err := payment.Refund(amount); err != nil {
		return err
	}
	i.Recompute()
	i.IncrementVersion()

	i.AddDomainEvent(NewPaymentRefundedEvent(i, payment, amount, reason))
	return nil
}

// FindPayment returns the payment with the given ID, or nil
func (i *Invoice) FindPayment(paymentID uuid.UUID) *Payment {
	return i.findPayment(paymentID)
}

func (i *Invoice) findPayment(paymentID uuid.UUID) *Payment {
	for idx := range i.Payments {
		if i.Payments[idx].ID == paymentID {
			return &i.Payments[idx]
		}
	}
	return nil
}

// PendingPayments returns payments still awaiting confirmation
func (i *Invoice) PendingPayments() []Payment {
	var pending []Payment
	for _, p := range i.Payments {
		if p.IsPending() {
			pending = append(pending, p)
		}
	}
	return pending
}

// IsOverdue returns true if the invoice has an unpaid balance past its
// due date
func (i *Invoice) IsOverdue(now time.Time) bool {
	return i.DueDate != nil && now.After(*i.DueDate) && !i.IsSettled()
}
