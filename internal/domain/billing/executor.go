package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeRequest carries the parameters of a single charge attempt
type ChargeRequest struct {
	InvoiceID     uuid.UUID
	InvoiceNumber string
	PatientID     uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Reference     string
	Metadata      map[string]string
}

// ChargeResult is the outcome of a charge attempt. Pending results carry
// a transaction ID for correlating the out-of-band confirmation.
type ChargeResult struct {
	TransactionID string
	Status        PaymentStatus
	Message       string
}

// RefundRequest carries the parameters of a refund attempt against a
// previously settled charge
type RefundRequest struct {
	TransactionID string
	PaymentID     uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Reason        string
}

// RefundResult is the outcome of a refund attempt
type RefundResult struct {
	RefundID string
	Message  string
}

// PaymentExecutor executes charges for a single payment method. Declines
// are returned as PAYMENT_DECLINED domain errors; transient channel
// failures carry the transient flag so callers can retry.
type PaymentExecutor interface {
	// Method returns the payment method this executor handles
	Method() PaymentMethod
	// Charge executes or initiates a charge
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// RefundExecutor reverses charges for a single payment method. Not every
// method supports reversal through its channel.
type RefundExecutor interface {
	// Refund reverses part or all of a settled charge
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// ExecutorRegistry resolves the executor for a payment method. Resolution
// of an unregistered method is an UNSUPPORTED_PAYMENT_METHOD error, not a
// panic.
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[PaymentMethod]PaymentExecutor
}

// NewExecutorRegistry creates an empty executor registry
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{
		executors: make(map[PaymentMethod]PaymentExecutor),
	}
}

// Register adds an executor for its method, replacing any previous one
func (r *ExecutorRegistry) Register(executor PaymentExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executor.Method()] = executor
}

// Resolve returns the executor for the given method
func (r *ExecutorRegistry) Resolve(method PaymentMethod) (PaymentExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[method]
	if !ok {
		return nil, shared.NewDomainError("UNSUPPORTED_PAYMENT_METHOD",
			fmt.Sprintf("No payment executor registered for method: %s", method))
	}
	return executor, nil
}

// ResolveRefund returns the refund capability of the method's executor,
// if it has one
func (r *ExecutorRegistry) ResolveRefund(method PaymentMethod) (RefundExecutor, error) {
	executor, err := r.Resolve(method)
	if err != nil {
		return nil, err
	}
	refunder, ok := executor.(RefundExecutor)
	if !ok {
		return nil, shared.NewDomainError("REFUND_NOT_ALLOWED",
			fmt.Sprintf("Payment method %s does not support refunds through its channel", method))
	}
	return refunder, nil
}

// Methods returns the registered payment methods
func (r *ExecutorRegistry) Methods() []PaymentMethod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]PaymentMethod, 0, len(r.executors))
	for m := range r.executors {
		methods = append(methods, m)
	}
	return methods
}
