package gateway

import (
	"context"
	"fmt"

	"github.com/clinic/backend/internal/domain/billing"
	"github.com/clinic/backend/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// chargeRequest is the wire format shared by the card and mobile money
// gateways
type chargeRequest struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Invoice   string          `json:"invoice"`
}

type chargeResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

type refundRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason"`
}

type refundResponse struct {
	RefundID string `json:"refund_id"`
	Message  string `json:"message"`
}

// CashExecutor settles cash payments at the counter. There is no
// external channel; the charge completes immediately.
type CashExecutor struct{}

// NewCashExecutor creates a new CashExecutor
func NewCashExecutor() *CashExecutor {
	return &CashExecutor{}
}

// Method returns the payment method this executor handles
func (e *CashExecutor) Method() billing.PaymentMethod {
	return billing.PaymentMethodCash
}

// Charge completes immediately with a locally generated receipt reference
func (e *CashExecutor) Charge(_ context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	return &billing.ChargeResult{
		TransactionID: "CASH-" + uuid.NewString()[:8],
		Status:        billing.PaymentStatusCompleted,
	}, nil
}

// CardExecutor charges cards through the card gateway
type CardExecutor struct {
	client   *client
	currency string
}

// NewCardExecutor creates a new CardExecutor
func NewCardExecutor(cfg config.GatewayConfig, currency string, logger *zap.Logger) *CardExecutor {
	return &CardExecutor{
		client:   newClient(cfg.CardURL, cfg.APIKey, cfg.Timeout, cfg.MaxRetries, logger.Named("card-gateway")),
		currency: currency,
	}
}

// Method returns the payment method this executor handles
func (e *CardExecutor) Method() billing.PaymentMethod {
	return billing.PaymentMethodCard
}

// Charge executes a synchronous card charge
func (e *CardExecutor) Charge(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	var resp chargeResponse
	err := e.client.post(ctx, "/v1/charges", chargeRequest{
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  e.currency,
		Invoice:   req.InvoiceNumber,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &billing.ChargeResult{
		TransactionID: resp.TransactionID,
		Status:        billing.PaymentStatusCompleted,
		Message:       resp.Message,
	}, nil
}

// Refund reverses a card charge through the gateway
func (e *CardExecutor) Refund(ctx context.Context, req billing.RefundRequest) (*billing.RefundResult, error) {
	var resp refundResponse
	err := e.client.post(ctx, "/v1/refunds", refundRequest{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Currency:      e.currency,
		Reason:        req.Reason,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &billing.RefundResult{RefundID: resp.RefundID, Message: resp.Message}, nil
}

// MobileMoneyExecutor charges mobile wallets. The provider settles
// synchronously within the request.
type MobileMoneyExecutor struct {
	client   *client
	currency string
}

// NewMobileMoneyExecutor creates a new MobileMoneyExecutor
func NewMobileMoneyExecutor(cfg config.GatewayConfig, currency string, logger *zap.Logger) *MobileMoneyExecutor {
	return &MobileMoneyExecutor{
		client:   newClient(cfg.MobileMoneyURL, cfg.APIKey, cfg.Timeout, cfg.MaxRetries, logger.Named("momo-gateway")),
		currency: currency,
	}
}

// Method returns the payment method this executor handles
func (e *MobileMoneyExecutor) Method() billing.PaymentMethod {
	return billing.PaymentMethodMobileMoney
}

// Charge executes a synchronous wallet debit
func (e *MobileMoneyExecutor) Charge(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	var resp chargeResponse
	err := e.client.post(ctx, "/v1/collections", chargeRequest{
		Reference: req.Reference,
		Amount:    req.Amount,
		Currency:  e.currency,
		Invoice:   req.InvoiceNumber,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &billing.ChargeResult{
		TransactionID: resp.TransactionID,
		Status:        billing.PaymentStatusCompleted,
		Message:       resp.Message,
	}, nil
}

// Refund reverses a wallet debit
func (e *MobileMoneyExecutor) Refund(ctx context.Context, req billing.RefundRequest) (*billing.RefundResult, error) {
	var resp refundResponse
	err := e.client.post(ctx, "/v1/reversals", refundRequest{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Currency:      e.currency,
		Reason:        req.Reason,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &billing.RefundResult{RefundID: resp.RefundID, Message: resp.Message}, nil
}

// claimRequest is the wire format for insurance claim submission
type claimRequest struct {
	PatientID string          `json:"patient_id"`
	Invoice   string          `json:"invoice"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

type claimResponse struct {
	ClaimID string `json:"claim_id"`
	Message string `json:"message"`
}

// InsuranceExecutor submits claims to the insurer. Claims are
// adjudicated out-of-band; the charge result is always pending with the
// claim ID as transaction reference.
type InsuranceExecutor struct {
	client   *client
	currency string
}

// NewInsuranceExecutor creates a new InsuranceExecutor
func NewInsuranceExecutor(cfg config.GatewayConfig, currency string, logger *zap.Logger) *InsuranceExecutor {
	return &InsuranceExecutor{
		client:   newClient(cfg.InsuranceURL, cfg.APIKey, cfg.Timeout, cfg.MaxRetries, logger.Named("insurance-gateway")),
		currency: currency,
	}
}

// Method returns the payment method this executor handles
func (e *InsuranceExecutor) Method() billing.PaymentMethod {
	return billing.PaymentMethodInsurance
}

// Charge submits the claim and returns a pending result
func (e *InsuranceExecutor) Charge(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	var resp claimResponse
	err := e.client.post(ctx, "/v1/claims", claimRequest{
		PatientID: req.PatientID.String(),
		Invoice:   req.InvoiceNumber,
		Amount:    req.Amount,
		Currency:  e.currency,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &billing.ChargeResult{
		TransactionID: resp.ClaimID,
		Status:        billing.PaymentStatusPending,
		Message:       resp.Message,
	}, nil
}

// Refund records a clawback of a settled claim. The insurer is squared
// up through the monthly reconciliation run, not a channel call, so the
// refund always succeeds locally.
func (e *InsuranceExecutor) Refund(_ context.Context, req billing.RefundRequest) (*billing.RefundResult, error) {
	return &billing.RefundResult{
		RefundID: "RECON-" + uuid.NewString()[:8],
		Message:  fmt.Sprintf("claim %s queued for reconciliation", req.TransactionID),
	}, nil
}

// BankTransferExecutor registers an expected incoming transfer. The
// transfer itself happens in the patient's bank; settlement is
// confirmed out-of-band when the funds land.
type BankTransferExecutor struct{}

// NewBankTransferExecutor creates a new BankTransferExecutor
func NewBankTransferExecutor() *BankTransferExecutor {
	return &BankTransferExecutor{}
}

// Method returns the payment method this executor handles
func (e *BankTransferExecutor) Method() billing.PaymentMethod {
	return billing.PaymentMethodBankTransfer
}

// Charge issues a local transfer reference and returns pending
func (e *BankTransferExecutor) Charge(_ context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	return &billing.ChargeResult{
		TransactionID: "BANK-" + uuid.NewString()[:8],
		Status:        billing.PaymentStatusPending,
		Message:       fmt.Sprintf("awaiting transfer for %s", req.InvoiceNumber),
	}, nil
}

// Refund records an outgoing transfer to be issued by the back office.
// There is no channel to reverse through, so it always succeeds locally.
func (e *BankTransferExecutor) Refund(_ context.Context, req billing.RefundRequest) (*billing.RefundResult, error) {
	return &billing.RefundResult{
		RefundID: "RECON-" + uuid.NewString()[:8],
		Message:  fmt.Sprintf("transfer reversal of %s queued for reconciliation", req.TransactionID),
	}, nil
}

// NewRegistry builds the executor registry with every supported payment
// method wired to its channel
func NewRegistry(cfg config.GatewayConfig, currency string, logger *zap.Logger) *billing.ExecutorRegistry {
	registry := billing.NewExecutorRegistry()
	registry.Register(NewCashExecutor())
	registry.Register(NewCardExecutor(cfg, currency, logger))
	registry.Register(NewMobileMoneyExecutor(cfg, currency, logger))
	registry.Register(NewInsuranceExecutor(cfg, currency, logger))
	registry.Register(NewBankTransferExecutor())
	return registry
}
