package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	billingapp "github.com/clinic/backend/internal/application/billing"
	"github.com/clinic/backend/internal/domain/billing"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/auth"
	"github.com/clinic/backend/internal/interfaces/http/dto"
	"github.com/clinic/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// fakeInvoiceRepo is a map-backed InvoiceRepository for handler tests
type fakeInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*billing.Invoice
	seq      int
}

func newFakeInvoiceRepo() *fakeInvoiceRepo {
	return &fakeInvoiceRepo{invoices: make(map[uuid.UUID]*billing.Invoice)}
}

func (r *fakeInvoiceRepo) clone(inv *billing.Invoice) *billing.Invoice {
	cp := *inv
	cp.Items = append(billing.LineItems{}, inv.Items...)
	cp.Payments = append(billing.Payments{}, inv.Payments...)
	cp.ClearDomainEvents()
	return &cp
}

func (r *fakeInvoiceRepo) FindByID(_ context.Context, id uuid.UUID) (*billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, nil
	}
	return r.clone(inv), nil
}

func (r *fakeInvoiceRepo) FindByInvoiceNumber(_ context.Context, number string) (*billing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.InvoiceNumber == number {
			return r.clone(inv), nil
		}
	}
	return nil, nil
}

func (r *fakeInvoiceRepo) FindByPatient(_ context.Context, patientID uuid.UUID, filter shared.Filter) (shared.Paginated[*billing.Invoice], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*billing.Invoice
	for _, inv := range r.invoices {
		if inv.PatientID == patientID {
			items = append(items, r.clone(inv))
		}
	}
	return shared.NewPaginated(items, int64(len(items)), filter.Page, filter.PageSize), nil
}

func (r *fakeInvoiceRepo) FindAll(_ context.Context, status *billing.InvoiceStatus, filter shared.Filter) (shared.Paginated[*billing.Invoice], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*billing.Invoice
	for _, inv := range r.invoices {
		if status == nil || inv.Status == *status {
			items = append(items, r.clone(inv))
		}
	}
	return shared.NewPaginated(items, int64(len(items)), filter.Page, filter.PageSize), nil
}

func (r *fakeInvoiceRepo) FindByPeriod(_ context.Context, from, to time.Time) ([]*billing.Invoice, error) {
	return nil, nil
}

func (r *fakeInvoiceRepo) FindWithPendingPayments(_ context.Context) ([]*billing.Invoice, error) {
	return nil, nil
}

func (r *fakeInvoiceRepo) Save(_ context.Context, inv *billing.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices[inv.ID] = r.clone(inv)
	return nil
}

func (r *fakeInvoiceRepo) SaveWithLock(_ context.Context, inv *billing.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; !ok {
		return shared.ErrNotFound
	}
	r.invoices[inv.ID] = r.clone(inv)
	return nil
}

func (r *fakeInvoiceRepo) CountByStatus(_ context.Context) (map[billing.InvoiceStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[billing.InvoiceStatus]int64)
	for _, inv := range r.invoices {
		counts[inv.Status]++
	}
	return counts, nil
}

func (r *fakeInvoiceRepo) SumOutstanding(_ context.Context, patientID *uuid.UUID) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, inv := range r.invoices {
		if inv.Status == billing.InvoiceStatusPaid {
			continue
		}
		if patientID != nil && inv.PatientID != *patientID {
			continue
		}
		total = total.Add(inv.Balance)
	}
	return total, nil
}

func (r *fakeInvoiceRepo) SumRevenueForPeriod(_ context.Context, from, to time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (r *fakeInvoiceRepo) GenerateInvoiceNumber(_ context.Context, date time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return fmt.Sprintf("INV-%s-%05d", date.Format("20060102"), r.seq), nil
}

// stubExecutor settles charges locally so tests never reach a gateway
type stubExecutor struct {
	method  billing.PaymentMethod
	pending bool
}

func (e *stubExecutor) Method() billing.PaymentMethod { return e.method }

func (e *stubExecutor) Charge(_ context.Context, _ billing.ChargeRequest) (*billing.ChargeResult, error) {
	status := billing.PaymentStatusCompleted
	if e.pending {
		status = billing.PaymentStatusPending
	}
	return &billing.ChargeResult{TransactionID: "TXN-" + uuid.NewString()[:8], Status: status}, nil
}

func (e *stubExecutor) Refund(_ context.Context, _ billing.RefundRequest) (*billing.RefundResult, error) {
	return &billing.RefundResult{RefundID: "RF-" + uuid.NewString()[:8]}, nil
}

type noopBus struct{}

func (noopBus) Publish(_ context.Context, _ ...shared.DomainEvent) error { return nil }

type billingEnv struct {
	engine *gin.Engine
	repo   *fakeInvoiceRepo
	staff  uuid.UUID
	role   string
}

func newBillingEnv(t *testing.T) *billingEnv {
	t.Helper()

	repo := newFakeInvoiceRepo()
	registry := billing.NewExecutorRegistry()
	registry.Register(&stubExecutor{method: billing.PaymentMethodCash})
	registry.Register(&stubExecutor{method: billing.PaymentMethodCard})
	registry.Register(&stubExecutor{method: billing.PaymentMethodInsurance, pending: true})

	log := zap.NewNop()
	locks := billingapp.NewInvoiceLocks()
	taxRate := decimal.NewFromFloat(0.1)

	h := NewBillingHandler(
		billingapp.NewInvoiceService(repo, noopBus{}, taxRate, log),
		billingapp.NewPaymentService(repo, registry, noopBus{}, locks, log),
		billingapp.NewRefundService(repo, registry, noopBus{}, locks, log),
		billingapp.NewQueryService(repo),
	)

	env := &billingEnv{repo: repo, staff: uuid.New(), role: auth.RoleCashier}

	engine := gin.New()
	engine.Use(func(c *gin.Context) {
		c.Set(middleware.JWTClaimsKey, &auth.Claims{
			StaffID: env.staff.String(),
			Name:    "A. Okafor",
			Role:    env.role,
		})
		c.Next()
	})
	api := engine.Group("/api/v1")
	h.RegisterRoutes(api)

	env.engine = engine
	return env
}

func (env *billingEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *dto.ErrorInfo  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, "expected success response, got %s", w.Body.String())
	var out T
	require.NoError(t, json.Unmarshal(envelope.Data, &out))
	return out
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *dto.ErrorInfo {
	t.Helper()
	var envelope struct {
		Success bool           `json:"success"`
		Error   *dto.ErrorInfo `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.False(t, envelope.Success)
	require.NotNil(t, envelope.Error)
	return envelope.Error
}

func (env *billingEnv) createInvoice(t *testing.T) InvoiceResponse {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/billing/invoices", CreateInvoiceRequest{
		PatientID: uuid.NewString(),
		Items: []LineItemRequest{
			{Description: "Consultation", Quantity: 1, UnitPrice: 50},
			{Description: "Lab panel", Quantity: 2, UnitPrice: 25},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeData[InvoiceResponse](t, w)
}

func TestCreateInvoice(t *testing.T) {
	env := newBillingEnv(t)

	t.Run("creates invoice with derived totals", func(t *testing.T) {
		resp := env.createInvoice(t)
		assert.Regexp(t, `^INV-\d{8}-\d{5}$`, resp.InvoiceNumber)
		assert.Equal(t, 100.0, resp.Subtotal)
		assert.Equal(t, 10.0, resp.TaxAmount)
		assert.Equal(t, 110.0, resp.Total)
		assert.Equal(t, string(billing.InvoiceStatusPending), resp.Status)
		assert.Len(t, resp.Items, 2)
	})

	t.Run("accepts zero-price line items", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/billing/invoices", CreateInvoiceRequest{
			PatientID: uuid.NewString(),
			Items: []LineItemRequest{
				{Description: "Consultation", Quantity: 1, UnitPrice: 50},
				{Description: "Follow-up review", Quantity: 1, UnitPrice: 0},
			},
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		resp := decodeData[InvoiceResponse](t, w)
		assert.Equal(t, 50.0, resp.Subtotal)
		assert.Equal(t, 0.0, resp.Items[1].Amount)
	})

	t.Run("rejects empty item list", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/billing/invoices", CreateInvoiceRequest{
			PatientID: uuid.NewString(),
			Items:     []LineItemRequest{},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects malformed patient ID", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/billing/invoices", gin.H{
			"patient_id": "not-a-uuid",
			"items":      []LineItemRequest{{Description: "Consultation", Quantity: 1, UnitPrice: 50}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetInvoice(t *testing.T) {
	env := newBillingEnv(t)
	created := env.createInvoice(t)

	t.Run("by id", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/invoices/"+created.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeData[InvoiceResponse](t, w)
		assert.Equal(t, created.InvoiceNumber, resp.InvoiceNumber)
	})

	t.Run("by number", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/invoices/number/"+created.InvoiceNumber, nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeData[InvoiceResponse](t, w)
		assert.Equal(t, created.ID, resp.ID)
	})

	t.Run("unknown id returns 404", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/invoices/"+uuid.NewString(), nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "INVOICE_NOT_FOUND", decodeError(t, w).Code)
	})

	t.Run("malformed id returns 400", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/invoices/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSubmitPaymentEndpoint(t *testing.T) {
	t.Run("cash payment settles invoice", func(t *testing.T) {
		env := newBillingEnv(t)
		inv := env.createInvoice(t)

		w := env.do(t, http.MethodPost, "/api/v1/billing/invoices/"+inv.ID+"/payments",
			SubmitPaymentRequest{Amount: 110, Method: "cash"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		result := decodeData[billingapp.SubmitPaymentResult](t, w)
		assert.Equal(t, billing.PaymentStatusCompleted, result.PaymentStatus)
		assert.Equal(t, billing.InvoiceStatusPaid, result.InvoiceStatus)
		assert.True(t, result.Balance.IsZero())

		w = env.do(t, http.MethodGet,
			"/api/v1/billing/invoices/"+inv.ID+"/payments/"+result.PaymentID.String(), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		payment := decodeData[PaymentResponse](t, w)
		assert.Equal(t, "cash", payment.Method)
		assert.False(t, payment.PaidAt.IsZero())
	})

	t.Run("overpayment is rejected", func(t *testing.T) {
		env := newBillingEnv(t)
		inv := env.createInvoice(t)

		w := env.do(t, http.MethodPost, "/api/v1/billing/invoices/"+inv.ID+"/payments",
			SubmitPaymentRequest{Amount: 200, Method: "cash"})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "OVERPAYMENT_REJECTED", decodeError(t, w).Code)
	})

	t.Run("unsupported method is rejected", func(t *testing.T) {
		env := newBillingEnv(t)
		inv := env.createInvoice(t)

		w := env.do(t, http.MethodPost, "/api/v1/billing/invoices/"+inv.ID+"/payments",
			SubmitPaymentRequest{Amount: 10, Method: "cheque"})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeError(t, w).Message, "payment_method")
	})

	t.Run("clinician may not submit payments", func(t *testing.T) {
		env := newBillingEnv(t)
		inv := env.createInvoice(t)
		env.role = auth.RoleClinic

		w := env.do(t, http.MethodPost, "/api/v1/billing/invoices/"+inv.ID+"/payments",
			SubmitPaymentRequest{Amount: 110, Method: "cash"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestConfirmPaymentEndpoint(t *testing.T) {
	env := newBillingEnv(t)
	inv := env.createInvoice(t)

	w := env.do(t, http.MethodPost, "/api/v1/billing/invoices/"+inv.ID+"/payments",
		SubmitPaymentRequest{Amount: 110, Method: "insurance"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	submitted := decodeData[billingapp.SubmitPaymentResult](t, w)
	require.Equal(t, billing.PaymentStatusPending, submitted.PaymentStatus)

	succeeded := true
	w = env.do(t, http.MethodPost,
		"/api/v1/billing/invoices/"+inv.ID+"/payments/"+submitted.PaymentID.String()+"/confirm",
		ConfirmPaymentRequest{Succeeded: &succeeded, TransactionID: "CLM-99"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeData[InvoiceResponse](t, w)
	assert.Equal(t, string(billing.InvoiceStatusPaid), resp.Status)
	assert.Equal(t, 110.0, resp.PaidAmount)
}

func TestRefundPaymentEndpoint(t *testing.T) {
	payByCard := func(t *testing.T, env *billingEnv, inv InvoiceResponse) billingapp.SubmitPaymentResult {
		t.Helper()
		w := env.do(t, http.MethodPost, "/api/v1/billing/invoices/"+inv.ID+"/payments",
			SubmitPaymentRequest{Amount: 110, Method: "card"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		return decodeData[billingapp.SubmitPaymentResult](t, w)
	}

	t.Run("full refund reopens the invoice", func(t *testing.T) {
		env := newBillingEnv(t)
		inv := env.createInvoice(t)
		paid := payByCard(t, env, inv)

		w := env.do(t, http.MethodPost,
			"/api/v1/billing/invoices/"+inv.ID+"/payments/"+paid.PaymentID.String()+"/refund",
			RefundPaymentRequest{Amount: 110, Reason: "duplicate charge"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		result := decodeData[billingapp.RefundPaymentResult](t, w)
		assert.Equal(t, billing.PaymentStatusRefunded, result.PaymentStatus)
		assert.Equal(t, billing.InvoiceStatusPending, result.InvoiceStatus)
		assert.NotEmpty(t, result.RefundID)
	})

	t.Run("omitted amount refunds the full payment", func(t *testing.T) {
		env := newBillingEnv(t)
		inv := env.createInvoice(t)
		paid := payByCard(t, env, inv)

		w := env.do(t, http.MethodPost,
			"/api/v1/billing/invoices/"+inv.ID+"/payments/"+paid.PaymentID.String()+"/refund",
			gin.H{"reason": "visit cancelled"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		result := decodeData[billingapp.RefundPaymentResult](t, w)
		assert.True(t, result.Amount.Equal(decimal.NewFromInt(110)), "amount %s", result.Amount)
		assert.Equal(t, billing.PaymentStatusRefunded, result.PaymentStatus)
	})
}

func TestReportEndpoints(t *testing.T) {
	env := newBillingEnv(t)
	env.createInvoice(t)

	t.Run("status counts", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/reports/status-counts", nil)
		require.Equal(t, http.StatusOK, w.Code)
		breakdown := decodeData[billingapp.StatusBreakdown](t, w)
		assert.Equal(t, int64(1), breakdown.Pending)
		assert.Equal(t, int64(1), breakdown.Total)
	})

	t.Run("outstanding balance", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/reports/outstanding", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeData[OutstandingResponse](t, w)
		assert.Equal(t, 110.0, resp.Outstanding)
	})

	t.Run("revenue rejects inverted period", func(t *testing.T) {
		w := env.do(t, http.MethodGet,
			"/api/v1/billing/reports/revenue?from=2026-09-01&to=2026-08-01", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("revenue requires both bounds", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/reports/revenue?from=2026-08-01", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListInvoicesEndpoint(t *testing.T) {
	env := newBillingEnv(t)
	first := env.createInvoice(t)
	env.createInvoice(t)

	t.Run("lists all", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/invoices?page=1&page_size=10", nil)
		require.Equal(t, http.StatusOK, w.Code)
		items := decodeData[[]InvoiceResponse](t, w)
		assert.Len(t, items, 2)
	})

	t.Run("filters by status", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/invoices?status=paid", nil)
		require.Equal(t, http.StatusOK, w.Code)
		items := decodeData[[]InvoiceResponse](t, w)
		assert.Empty(t, items)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/invoices?status=void", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("lists patient invoices", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/billing/patients/"+first.PatientID+"/invoices", nil)
		require.Equal(t, http.StatusOK, w.Code)
		items := decodeData[[]InvoiceResponse](t, w)
		require.Len(t, items, 1)
		assert.Equal(t, first.ID, items[0].ID)
	})
}
