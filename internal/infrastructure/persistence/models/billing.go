package models

import (
	"time"

	"github.com/clinic/backend/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceModel is the persistence model for the Invoice aggregate root.
// Line items and the payment history are stored as JSONB sequences; the
// derived fields are persisted so reporting queries never have to unfold
// the payment history in SQL.
type InvoiceModel struct {
	AggregateModel
	InvoiceNumber string                `gorm:"type:varchar(50);not null;uniqueIndex"`
	PatientID     uuid.UUID             `gorm:"type:uuid;not null;index"`
	VisitID       *uuid.UUID            `gorm:"type:uuid;index"`
	Items         billing.LineItems     `gorm:"type:jsonb;default:'[]'"`
	Subtotal      decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	TaxAmount     decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Discount      decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Total         decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	PaidAmount    decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Balance       decimal.Decimal       `gorm:"type:decimal(18,4);not null;index"`
	Status        billing.InvoiceStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	Payments      billing.Payments      `gorm:"type:jsonb;default:'[]'"`
	DueDate       *time.Time            `gorm:"index"`
	Notes         string                `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the persistence model to a domain Invoice
func (m *InvoiceModel) ToDomain() *billing.Invoice {
	inv := &billing.Invoice{
		InvoiceNumber: m.InvoiceNumber,
		PatientID:     m.PatientID,
		VisitID:       m.VisitID,
		Items:         m.Items,
		Subtotal:      m.Subtotal,
		TaxAmount:     m.TaxAmount,
		Discount:      m.Discount,
		Total:         m.Total,
		PaidAmount:    m.PaidAmount,
		Balance:       m.Balance,
		Status:        m.Status,
		Payments:      m.Payments,
		DueDate:       m.DueDate,
		Notes:         m.Notes,
	}
	m.PopulateAggregateRoot(&inv.BaseAggregateRoot)
	return inv
}

// FromDomain populates the persistence model from a domain Invoice
func (m *InvoiceModel) FromDomain(inv *billing.Invoice) {
	m.FromDomainAggregateRoot(inv.BaseAggregateRoot)
	m.InvoiceNumber = inv.InvoiceNumber
	m.PatientID = inv.PatientID
	m.VisitID = inv.VisitID
	m.Items = inv.Items
	m.Subtotal = inv.Subtotal
	m.TaxAmount = inv.TaxAmount
	m.Discount = inv.Discount
	m.Total = inv.Total
	m.PaidAmount = inv.PaidAmount
	m.Balance = inv.Balance
	m.Status = inv.Status
	m.Payments = inv.Payments
	m.DueDate = inv.DueDate
	m.Notes = inv.Notes
}

// InvoiceModelFromDomain creates a new persistence model from a domain Invoice
func InvoiceModelFromDomain(inv *billing.Invoice) *InvoiceModel {
	m := &InvoiceModel{}
	m.FromDomain(inv)
	return m
}
