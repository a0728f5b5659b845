package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinic/backend/internal/domain/billing"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// openStatuses are the statuses with money still owed
var openStatuses = []billing.InvoiceStatus{
	billing.InvoiceStatusPending,
	billing.InvoiceStatusPartial,
}

// GormInvoiceRepository implements InvoiceRepository using GORM
type GormInvoiceRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRepository creates a new GormInvoiceRepository
func NewGormInvoiceRepository(db *gorm.DB) *GormInvoiceRepository {
	return &GormInvoiceRepository{db: db}
}

// FindByID finds an invoice by its ID. A missing invoice is reported as
// nil, not an error.
func (r *GormInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByInvoiceNumber finds an invoice by its human-readable number
func (r *GormInvoiceRepository) FindByInvoiceNumber(ctx context.Context, number string) (*billing.Invoice, error) {
	var model models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("invoice_number = ?", number).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByPatient finds invoices for a patient with pagination
func (r *GormInvoiceRepository) FindByPatient(ctx context.Context, patientID uuid.UUID, filter shared.Filter) (shared.Paginated[*billing.Invoice], error) {
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{}).
		Where("patient_id = ?", patientID)
	return r.paginate(query, filter)
}

// FindAll finds invoices with pagination, optionally filtered by status
func (r *GormInvoiceRepository) FindAll(ctx context.Context, status *billing.InvoiceStatus, filter shared.Filter) (shared.Paginated[*billing.Invoice], error) {
	query := r.db.WithContext(ctx).Model(&models.InvoiceModel{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if filter.Search != "" {
		query = query.Where("invoice_number LIKE ?", "%"+filter.Search+"%")
	}
	return r.paginate(query, filter)
}

// FindByPeriod finds invoices created within [from, to)
func (r *GormInvoiceRepository) FindByPeriod(ctx context.Context, from, to time.Time) ([]*billing.Invoice, error) {
	var invoiceModels []models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Find(&invoiceModels).Error; err != nil {
		return nil, err
	}
	return toDomainSlice(invoiceModels), nil
}

// FindWithPendingPayments finds invoices carrying payments that await
// out-of-band confirmation. The JSONB containment check keeps the scan
// on the database side.
func (r *GormInvoiceRepository) FindWithPendingPayments(ctx context.Context) ([]*billing.Invoice, error) {
	var invoiceModels []models.InvoiceModel
	if err := r.db.WithContext(ctx).
		Where(`payments @> ?`, `[{"status":"pending"}]`).
		Order("created_at ASC").
		Find(&invoiceModels).Error; err != nil {
		return nil, err
	}
	return toDomainSlice(invoiceModels), nil
}

// Save creates a new invoice
func (r *GormInvoiceRepository) Save(ctx context.Context, invoice *billing.Invoice) error {
	model := models.InvoiceModelFromDomain(invoice)
	return r.db.WithContext(ctx).Save(model).Error
}

// SaveWithLock saves with optimistic locking
func (r *GormInvoiceRepository) SaveWithLock(ctx context.Context, invoice *billing.Invoice) error {
	model := models.InvoiceModelFromDomain(invoice)
	result := r.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND version = ?", invoice.ID, invoice.Version-1).
		Select("*").
		Omit("id", "created_at").
		Updates(model)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// CountByStatus counts invoices per settlement status
func (r *GormInvoiceRepository) CountByStatus(ctx context.Context) (map[billing.InvoiceStatus]int64, error) {
	var rows []struct {
		Status billing.InvoiceStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[billing.InvoiceStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// SumOutstanding calculates the total unpaid balance across unsettled
// invoices, optionally restricted to one patient
func (r *GormInvoiceRepository) SumOutstanding(ctx context.Context, patientID *uuid.UUID) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	query := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Select("COALESCE(SUM(balance), 0) as total").
		Where("status IN ?", openStatuses)
	if patientID != nil {
		query = query.Where("patient_id = ?", *patientID)
	}
	if err := query.Scan(&result).Error; err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}

// SumRevenueForPeriod calculates settled payment volume received within
// [from, to), net of refunds. Payments live in a JSONB sequence, so the
// sum unfolds it with jsonb_array_elements rather than loading every
// invoice.
func (r *GormInvoiceRepository) SumRevenueForPeriod(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	if err := r.db.WithContext(ctx).
		Raw(`
			SELECT COALESCE(SUM((p->>'amount')::numeric - (p->>'refunded_amount')::numeric), 0) AS total
			FROM invoices, jsonb_array_elements(payments) AS p
			WHERE p->>'status' IN ('completed', 'refunded')
			  AND (p->>'paid_at')::timestamptz >= ?
			  AND (p->>'paid_at')::timestamptz < ?`,
			from, to).
		Scan(&result).Error; err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}

// GenerateInvoiceNumber generates a unique invoice number.
// Format: INV-YYYYMMDD-XXXXX
func (r *GormInvoiceRepository) GenerateInvoiceNumber(ctx context.Context, date time.Time) (string, error) {
	prefix := fmt.Sprintf("INV-%s-", date.Format("20060102"))

	var maxNumber string
	if err := r.db.WithContext(ctx).
		Model(&models.InvoiceModel{}).
		Select("invoice_number").
		Where("invoice_number LIKE ?", prefix+"%").
		Order("invoice_number DESC").
		Limit(1).
		Pluck("invoice_number", &maxNumber).Error; err != nil {
		return "", err
	}

	var nextNum int
	if maxNumber != "" {
		parts := strings.Split(maxNumber, "-")
		if len(parts) == 3 {
			fmt.Sscanf(parts[2], "%d", &nextNum)
		}
	}
	nextNum++

	return fmt.Sprintf("%s%05d", prefix, nextNum), nil
}

func (r *GormInvoiceRepository) paginate(query *gorm.DB, filter shared.Filter) (shared.Paginated[*billing.Invoice], error) {
	var empty shared.Paginated[*billing.Invoice]

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return empty, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	orderBy := "created_at"
	if filter.OrderBy != "" {
		orderBy = filter.OrderBy
	}
	orderDir := "DESC"
	if strings.EqualFold(filter.OrderDir, "asc") {
		orderDir = "ASC"
	}

	var invoiceModels []models.InvoiceModel
	if err := query.
		Order(orderBy + " " + orderDir).
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&invoiceModels).Error; err != nil {
		return empty, err
	}

	return shared.NewPaginated(toDomainSlice(invoiceModels), total, filter.Page, filter.PageSize), nil
}

func toDomainSlice(invoiceModels []models.InvoiceModel) []*billing.Invoice {
	invoices := make([]*billing.Invoice, len(invoiceModels))
	for i := range invoiceModels {
		invoices[i] = invoiceModels[i].ToDomain()
	}
	return invoices
}

// Ensure GormInvoiceRepository implements InvoiceRepository
var _ billing.InvoiceRepository = (*GormInvoiceRepository)(nil)
