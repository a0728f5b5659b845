package billing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// LineItemInput is the caller-supplied portion of a line item, before the
// amount has been derived.
type LineItemInput struct {
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// LineItem represents a billed service or product on an invoice.
// Amount is always derived as quantity * unit price and is never set
// independently of its inputs.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// LineItems is a slice of LineItem stored as a JSONB column on the invoice
type LineItems []LineItem

// Value implements driver.Valuer for JSONB storage
func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB retrieval
func (l *LineItems) Scan(value interface{}) error {
	if value == nil {
		*l = LineItems{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan LineItems: unsupported type")
	}

	if len(bytes) == 0 {
		*l = LineItems{}
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// CalculateLineItems validates the inputs and derives per-item amounts and
// the invoice subtotal. It is a pure function: no state, no side effects.
func CalculateLineItems(inputs []LineItemInput) (LineItems, decimal.Decimal, error) {
	items := make(LineItems, 0, len(inputs))
	subtotal := decimal.Zero

	for i, in := range inputs {
		if in.Description == "" {
			return nil, decimal.Zero, shared.NewDomainError("INVALID_LINE_ITEM",
				fmt.Sprintf("Line item %d: description cannot be empty", i+1))
		}
		if in.Quantity <= 0 {
			return nil, decimal.Zero, shared.NewDomainError("INVALID_LINE_ITEM",
				fmt.Sprintf("Line item %d: quantity must be positive", i+1))
		}
		if in.UnitPrice.IsNegative() {
			return nil, decimal.Zero, shared.NewDomainError("INVALID_LINE_ITEM",
				fmt.Sprintf("Line item %d: unit price cannot be negative", i+1))
		}

		amount := in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity))
		items = append(items, LineItem{
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Amount:      amount,
		})
		subtotal = subtotal.Add(amount)
	}

	return items, subtotal, nil
}
