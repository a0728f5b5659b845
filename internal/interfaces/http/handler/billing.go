package handler

import (
	"time"

	billingapp "github.com/clinic/backend/internal/application/billing"
	"github.com/clinic/backend/internal/domain/billing"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/interfaces/http/dto"
	"github.com/clinic/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillingHandler handles billing API endpoints
type BillingHandler struct {
	BaseHandler
	invoiceService *billingapp.InvoiceService
	paymentService *billingapp.PaymentService
	refundService  *billingapp.RefundService
	queryService   *billingapp.QueryService
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(
	invoiceService *billingapp.InvoiceService,
	paymentService *billingapp.PaymentService,
	refundService *billingapp.RefundService,
	queryService *billingapp.QueryService,
) *BillingHandler {
	return &BillingHandler{
		invoiceService: invoiceService,
		paymentService: paymentService,
		refundService:  refundService,
		queryService:   queryService,
	}
}

// RegisterRoutes registers billing routes on the API group
func (h *BillingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	moneyRole := middleware.RequireMoneyRole()

	invoices := rg.Group("/billing/invoices")
	{
		invoices.POST("", h.CreateInvoice)
		invoices.GET("", h.ListInvoices)
		invoices.GET("/:id", h.GetInvoice)
		invoices.GET("/number/:number", h.GetInvoiceByNumber)
		invoices.POST("/:id/discount", moneyRole, h.ApplyDiscount)
		invoices.POST("/:id/payments", moneyRole, h.SubmitPayment)
		invoices.GET("/:id/payments/:paymentID", h.GetPayment)
		invoices.POST("/:id/payments/:paymentID/confirm", moneyRole, h.ConfirmPayment)
		invoices.POST("/:id/payments/:paymentID/refund", moneyRole, h.RefundPayment)
	}

	rg.GET("/billing/patients/:id/invoices", h.ListPatientInvoices)

	reports := rg.Group("/billing/reports")
	{
		reports.GET("/revenue", h.RevenueForPeriod)
		reports.GET("/outstanding", h.OutstandingBalance)
		reports.GET("/status-counts", h.CountByStatus)
		reports.GET("/invoices", h.InvoicesForPeriod)
		reports.GET("/awaiting-confirmation", h.InvoicesAwaitingConfirmation)
	}
}

// ===================== Request/Response DTOs =====================

// LineItemRequest represents a billable line in a create request
type LineItemRequest struct {
	Description string  `json:"description" binding:"required,min=1,max=200"`
	Quantity    int64   `json:"quantity" binding:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" binding:"gte=0"`
}

// CreateInvoiceRequest represents a request to create an invoice
type CreateInvoiceRequest struct {
	PatientID string            `json:"patient_id" binding:"required,uuid"`
	VisitID   string            `json:"visit_id" binding:"omitempty,uuid"`
	Items     []LineItemRequest `json:"items" binding:"required,min=1,dive"`
	Discount  float64           `json:"discount" binding:"omitempty,gte=0"`
	DueDate   string            `json:"due_date" binding:"omitempty"`
}

// ApplyDiscountRequest represents a discount adjustment
type ApplyDiscountRequest struct {
	Discount float64 `json:"discount" binding:"gte=0"`
}

// SubmitPaymentRequest represents a payment submission
type SubmitPaymentRequest struct {
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	Method    string  `json:"method" binding:"required,payment_method"`
	Reference string  `json:"reference" binding:"omitempty,max=100"`
}

// ConfirmPaymentRequest reports the settlement outcome of a pending payment
type ConfirmPaymentRequest struct {
	Succeeded     *bool  `json:"succeeded" binding:"required"`
	TransactionID string `json:"transaction_id" binding:"omitempty,max=100"`
	FailureReason string `json:"failure_reason" binding:"omitempty,max=500"`
}

// RefundPaymentRequest represents a refund of a settled payment. A
// missing amount means the full remaining payment amount.
type RefundPaymentRequest struct {
	Amount float64 `json:"amount" binding:"omitempty,gt=0"`
	Reason string  `json:"reason" binding:"required,min=1,max=500"`
}

// LineItemResponse represents a billable line in API responses
type LineItemResponse struct {
	Description string  `json:"description"`
	Quantity    int64   `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID             string     `json:"id"`
	Amount         float64    `json:"amount"`
	Method         string     `json:"method"`
	Status         string     `json:"status"`
	TransactionID  string     `json:"transaction_id,omitempty"`
	RefundedAmount float64    `json:"refunded_amount"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	PaidAt         time.Time  `json:"paid_at"`
	RefundedAt     *time.Time `json:"refunded_at,omitempty"`
	ReceivedBy     string     `json:"received_by"`
}

// InvoiceResponse represents an invoice in API responses
type InvoiceResponse struct {
	ID            string             `json:"id"`
	InvoiceNumber string             `json:"invoice_number"`
	PatientID     string             `json:"patient_id"`
	VisitID       *string            `json:"visit_id,omitempty"`
	Items         []LineItemResponse `json:"items"`
	Subtotal      float64            `json:"subtotal"`
	TaxAmount     float64            `json:"tax_amount"`
	Discount      float64            `json:"discount"`
	Total         float64            `json:"total"`
	PaidAmount    float64            `json:"paid_amount"`
	Balance       float64            `json:"balance"`
	Status        string             `json:"status"`
	Payments      []PaymentResponse  `json:"payments,omitempty"`
	DueDate       *time.Time         `json:"due_date,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Version       int                `json:"version"`
}

// OutstandingResponse represents an outstanding balance figure
type OutstandingResponse struct {
	PatientID   *string `json:"patient_id,omitempty"`
	Outstanding float64 `json:"outstanding"`
}

func toLineItemResponses(items billing.LineItems) []LineItemResponse {
	out := make([]LineItemResponse, len(items))
	for i, item := range items {
		out[i] = LineItemResponse{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.InexactFloat64(),
			Amount:      item.Amount.InexactFloat64(),
		}
	}
	return out
}

func toPaymentResponse(p *billing.Payment) PaymentResponse {
	return PaymentResponse{
		ID:             p.ID.String(),
		Amount:         p.Amount.InexactFloat64(),
		Method:         string(p.Method),
		Status:         string(p.Status),
		TransactionID:  p.TransactionID,
		RefundedAmount: p.RefundedAmount.InexactFloat64(),
		FailureReason:  p.FailureReason,
		PaidAt:         p.PaidAt,
		RefundedAt:     p.RefundedAt,
		ReceivedBy:     p.ReceivedBy.String(),
	}
}

func toInvoiceResponse(inv *billing.Invoice) InvoiceResponse {
	resp := InvoiceResponse{
		ID:            inv.ID.String(),
		InvoiceNumber: inv.InvoiceNumber,
		PatientID:     inv.PatientID.String(),
		Items:         toLineItemResponses(inv.Items),
		Subtotal:      inv.Subtotal.InexactFloat64(),
		TaxAmount:     inv.TaxAmount.InexactFloat64(),
		Discount:      inv.Discount.InexactFloat64(),
		Total:         inv.Total.InexactFloat64(),
		PaidAmount:    inv.PaidAmount.InexactFloat64(),
		Balance:       inv.Balance.InexactFloat64(),
		Status:        string(inv.Status),
		DueDate:       inv.DueDate,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
		Version:       inv.Version,
	}
	if inv.VisitID != nil {
		visitID := inv.VisitID.String()
		resp.VisitID = &visitID
	}
	for i := range inv.Payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(&inv.Payments[i]))
	}
	return resp
}

func toInvoiceResponses(invoices []*billing.Invoice) []InvoiceResponse {
	out := make([]InvoiceResponse, len(invoices))
	for i, inv := range invoices {
		out[i] = toInvoiceResponse(inv)
	}
	return out
}

// parseDate accepts both date-only and RFC 3339 timestamps
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// ===================== Invoice Handlers =====================

// CreateInvoice creates an invoice for a patient visit
func (h *BillingHandler) CreateInvoice(c *gin.Context) {
	staffID, err := getStaffID(c)
	if err != nil {
		h.Unauthorized(c, "Staff identity required")
		return
	}

	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		h.BadRequest(c, "Invalid patient ID format")
		return
	}

	var visitID *uuid.UUID
	if req.VisitID != "" {
		id, err := uuid.Parse(req.VisitID)
		if err != nil {
			h.BadRequest(c, "Invalid visit ID format")
			return
		}
		visitID = &id
	}

	var dueDate *time.Time
	if req.DueDate != "" {
		t, err := parseDate(req.DueDate)
		if err != nil {
			h.BadRequest(c, "Invalid due date format")
			return
		}
		dueDate = &t
	}

	items := make([]billing.LineItemInput, len(req.Items))
	for i, item := range req.Items {
		items[i] = billing.LineItemInput{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   decimal.NewFromFloat(item.UnitPrice),
		}
	}

	invoice, err := h.invoiceService.CreateInvoice(c.Request.Context(), billingapp.CreateInvoiceRequest{
		PatientID: patientID,
		VisitID:   visitID,
		Items:     items,
		Discount:  decimal.NewFromFloat(req.Discount),
		DueDate:   dueDate,
		CreatedBy: staffID,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, toInvoiceResponse(invoice))
}

// GetInvoice retrieves an invoice by ID
func (h *BillingHandler) GetInvoice(c *gin.Context) {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), invoiceID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toInvoiceResponse(invoice))
}

// GetInvoiceByNumber retrieves an invoice by its invoice number
func (h *BillingHandler) GetInvoiceByNumber(c *gin.Context) {
	invoice, err := h.invoiceService.GetInvoiceByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toInvoiceResponse(invoice))
}

// ListInvoices lists invoices, optionally filtered by settlement status
func (h *BillingHandler) ListInvoices(c *gin.Context) {
	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	filter := shared.DefaultFilter()
	if req.Page > 0 {
		filter.Page = req.Page
	}
	if req.PageSize > 0 {
		filter.PageSize = req.PageSize
	}

	var status *billing.InvoiceStatus
	if req.Status != "" {
		s := billing.InvoiceStatus(req.Status)
		status = &s
	}

	result, err := h.invoiceService.ListInvoices(c.Request.Context(), status, filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, toInvoiceResponses(result.Items), result.Total, result.Page, result.PageSize)
}

// ListPatientInvoices lists the invoices of one patient
func (h *BillingHandler) ListPatientInvoices(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid patient ID format")
		return
	}

	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	filter := shared.DefaultFilter()
	if req.Page > 0 {
		filter.Page = req.Page
	}
	if req.PageSize > 0 {
		filter.PageSize = req.PageSize
	}

	result, err := h.invoiceService.ListPatientInvoices(c.Request.Context(), patientID, filter)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.SuccessWithMeta(c, toInvoiceResponses(result.Items), result.Total, result.Page, result.PageSize)
}

// ApplyDiscount adjusts the discount on an open invoice
func (h *BillingHandler) ApplyDiscount(c *gin.Context) {
	staffID, err := getStaffID(c)
	if err != nil {
		h.Unauthorized(c, "Staff identity required")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	var req ApplyDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoice, err := h.invoiceService.ApplyDiscount(
		c.Request.Context(), invoiceID, decimal.NewFromFloat(req.Discount), staffID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toInvoiceResponse(invoice))
}

// ===================== Payment Handlers =====================

// SubmitPayment submits a payment against an invoice
func (h *BillingHandler) SubmitPayment(c *gin.Context) {
	staffID, err := getStaffID(c)
	if err != nil {
		h.Unauthorized(c, "Staff identity required")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	var req SubmitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	result, err := h.paymentService.SubmitPayment(c.Request.Context(), billingapp.SubmitPaymentRequest{
		InvoiceID:  invoiceID,
		Amount:     decimal.NewFromFloat(req.Amount),
		Method:     billing.PaymentMethod(req.Method),
		Reference:  req.Reference,
		ReceivedBy: staffID,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, result)
}

// GetPayment retrieves one payment on an invoice
func (h *BillingHandler) GetPayment(c *gin.Context) {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	paymentID, err := uuid.Parse(c.Param("paymentID"))
	if err != nil {
		h.BadRequest(c, "Invalid payment ID format")
		return
	}

	payment, err := h.paymentService.GetPayment(c.Request.Context(), invoiceID, paymentID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toPaymentResponse(payment))
}

// ConfirmPayment applies the out-of-band settlement result for a
// pending insurance or bank transfer payment
func (h *BillingHandler) ConfirmPayment(c *gin.Context) {
	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	paymentID, err := uuid.Parse(c.Param("paymentID"))
	if err != nil {
		h.BadRequest(c, "Invalid payment ID format")
		return
	}

	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoice, err := h.paymentService.ConfirmPayment(c.Request.Context(), billingapp.ConfirmPaymentRequest{
		InvoiceID:     invoiceID,
		PaymentID:     paymentID,
		Succeeded:     *req.Succeeded,
		TransactionID: req.TransactionID,
		FailureReason: req.FailureReason,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toInvoiceResponse(invoice))
}

// RefundPayment reverses part or all of a settled payment
func (h *BillingHandler) RefundPayment(c *gin.Context) {
	staffID, err := getStaffID(c)
	if err != nil {
		h.Unauthorized(c, "Staff identity required")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	paymentID, err := uuid.Parse(c.Param("paymentID"))
	if err != nil {
		h.BadRequest(c, "Invalid payment ID format")
		return
	}

	var req RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	result, err := h.refundService.RefundPayment(c.Request.Context(), billingapp.RefundPaymentRequest{
		InvoiceID:   invoiceID,
		PaymentID:   paymentID,
		Amount:      decimal.NewFromFloat(req.Amount),
		Reason:      req.Reason,
		RequestedBy: staffID,
	})
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, result)
}

// ===================== Report Handlers =====================

// RevenueForPeriod reports settled payment volume within a period
func (h *BillingHandler) RevenueForPeriod(c *gin.Context) {
	from, err := parseDate(c.Query("from"))
	if err != nil {
		h.BadRequest(c, "Invalid or missing from date")
		return
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		h.BadRequest(c, "Invalid or missing to date")
		return
	}

	report, err := h.queryService.RevenueForPeriod(c.Request.Context(), from, to)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, report)
}

// OutstandingBalance reports the unpaid balance across open invoices
func (h *BillingHandler) OutstandingBalance(c *gin.Context) {
	var patientID *uuid.UUID
	if raw := c.Query("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.BadRequest(c, "Invalid patient ID format")
			return
		}
		patientID = &id
	}

	outstanding, err := h.queryService.OutstandingBalance(c.Request.Context(), patientID)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	resp := OutstandingResponse{Outstanding: outstanding.InexactFloat64()}
	if patientID != nil {
		id := patientID.String()
		resp.PatientID = &id
	}
	h.Success(c, resp)
}

// InvoicesForPeriod lists invoices created within a period for
// reconciliation
func (h *BillingHandler) InvoicesForPeriod(c *gin.Context) {
	from, err := parseDate(c.Query("from"))
	if err != nil {
		h.BadRequest(c, "Invalid or missing from date")
		return
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		h.BadRequest(c, "Invalid or missing to date")
		return
	}

	invoices, err := h.queryService.InvoicesForPeriod(c.Request.Context(), from, to)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toInvoiceResponses(invoices))
}

// InvoicesAwaitingConfirmation lists invoices that still carry pending
// insurance or bank transfer payments
func (h *BillingHandler) InvoicesAwaitingConfirmation(c *gin.Context) {
	invoices, err := h.queryService.InvoicesAwaitingConfirmation(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toInvoiceResponses(invoices))
}

// CountByStatus reports the invoice count per settlement status
func (h *BillingHandler) CountByStatus(c *gin.Context) {
	breakdown, err := h.queryService.CountByStatus(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, breakdown)
}
