package dto

import "net/http"

// Error codes not owned by the billing domain
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeUnauthorized is used when authentication is missing or invalid
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeForbidden is used when the staff role lacks permission
	ErrCodeForbidden = "FORBIDDEN"
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "NOT_FOUND"
)

// ErrorCodeHTTPStatus maps domain error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	// Input errors -> 400 Bad Request
	ErrCodeBadRequest:            http.StatusBadRequest,
	"INVALID_INPUT":              http.StatusBadRequest,
	"INVALID_AMOUNT":             http.StatusBadRequest,
	"EMPTY_INVOICE":              http.StatusBadRequest,
	"INVALID_LINE_ITEM":          http.StatusBadRequest,
	"UNSUPPORTED_PAYMENT_METHOD": http.StatusBadRequest,

	// Auth errors
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,

	// Resource errors -> 404 Not Found
	ErrCodeNotFound:     http.StatusNotFound,
	"INVOICE_NOT_FOUND": http.StatusNotFound,
	"PAYMENT_NOT_FOUND": http.StatusNotFound,

	// Charge rejections -> 402 Payment Required
	"PAYMENT_DECLINED": http.StatusPaymentRequired,

	// Conflicts -> 409 Conflict
	"CONCURRENCY_CONFLICT": http.StatusConflict,

	// Ledger rule violations -> 422 Unprocessable Entity
	"OVERPAYMENT_REJECTED": http.StatusUnprocessableEntity,
	"INVOICE_ALREADY_PAID": http.StatusUnprocessableEntity,
	"REFUND_NOT_ALLOWED":   http.StatusUnprocessableEntity,
	"INVALID_STATE":        http.StatusUnprocessableEntity,

	ErrCodeInternal: http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Returns 500 Internal Server Error if the error code is not found.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
