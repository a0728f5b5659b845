package event

import (
	"context"

	"github.com/clinic/backend/internal/domain/billing"
	"github.com/clinic/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// BillingAuditHandler writes an audit trail entry for every billing
// event. Money movements need a trace that survives even when nothing
// else consumes the event.
type BillingAuditHandler struct {
	logger *zap.Logger
}

// NewBillingAuditHandler creates a new BillingAuditHandler
func NewBillingAuditHandler(logger *zap.Logger) *BillingAuditHandler {
	return &BillingAuditHandler{logger: logger.Named("billing-audit")}
}

// EventTypes returns the billing event types this handler consumes
func (h *BillingAuditHandler) EventTypes() []string {
	return []string{
		billing.EventTypeInvoiceCreated,
		billing.EventTypePaymentReceived,
		billing.EventTypePaymentPending,
		billing.EventTypePaymentRefunded,
	}
}

// Handle logs the event with its type-specific details
func (h *BillingAuditHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("aggregate_id", event.AggregateID().String()),
		zap.Time("occurred_at", event.OccurredAt()),
	}

	switch e := event.(type) {
	case *billing.InvoiceCreatedEvent:
		fields = append(fields,
			zap.String("invoice_number", e.InvoiceNumber),
			zap.String("total", e.Total.StringFixed(2)),
			zap.Int("item_count", e.ItemCount),
		)
	case *billing.PaymentReceivedEvent:
		fields = append(fields,
			zap.String("invoice_number", e.InvoiceNumber),
			zap.String("payment_id", e.PaymentID.String()),
			zap.String("amount", e.Amount.StringFixed(2)),
			zap.String("method", e.Method.String()),
			zap.String("invoice_status", e.InvoiceStatus.String()),
		)
	case *billing.PaymentPendingEvent:
		fields = append(fields,
			zap.String("invoice_number", e.InvoiceNumber),
			zap.String("payment_id", e.PaymentID.String()),
			zap.String("amount", e.Amount.StringFixed(2)),
			zap.String("method", e.Method.String()),
		)
	case *billing.PaymentRefundedEvent:
		fields = append(fields,
			zap.String("invoice_number", e.InvoiceNumber),
			zap.String("payment_id", e.PaymentID.String()),
			zap.String("amount", e.Amount.StringFixed(2)),
			zap.String("reason", e.Reason),
		)
	}

	h.logger.Info(event.EventType(), fields...)
	return nil
}

var _ shared.EventHandler = (*BillingAuditHandler)(nil)
