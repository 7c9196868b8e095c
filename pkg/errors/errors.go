package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound          = errors.New("resource not found")
	ErrBadRequest        = errors.New("bad request")
	ErrConflict          = errors.New("resource conflict")
	ErrInternal          = errors.New("internal server error")
	ErrValidation        = errors.New("validation error")
	ErrInsufficientStock = errors.New("insufficient stock")

	// Safety faults. These indicate ledger corruption or invariant
	// violations and must abort the enclosing transaction.
	ErrExpiredLeakage   = errors.New("expired stock selected by ordinary deduction")
	ErrRecountUnderflow = errors.New("recount delta exceeds total lot remainder")

	// Conversion errors
	ErrUnknownUnit           = errors.New("unknown unit")
	ErrMissingDensity        = errors.New("missing density")
	ErrMissingCustomMapping  = errors.New("missing custom unit mapping")
	ErrUnsupportedConversion = errors.New("unsupported conversion")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error is a safety fault rather than a
// business-recoverable condition. Fatal errors abort the enclosing
// transaction and should be surfaced for investigation, not retried.
func (e *AppError) Fatal() bool {
	return errors.Is(e.Err, ErrExpiredLeakage) || errors.Is(e.Err, ErrRecountUnderflow)
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Ledger error constructors

// InsufficientStock reports that the requested deduction exceeds the
// available quantity in the applicable lot set.
func InsufficientStock(itemID string, requested, available string) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    fmt.Sprintf("requested %s but only %s available", requested, available),
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]string{
			"item_id":   itemID,
			"requested": requested,
			"available": available,
		},
	}
}

// ExpiredLeakage reports that an ordinary deduction plan selected an
// expired lot. This must never occur if invariants hold.
func ExpiredLeakage(itemID, lotID string) *AppError {
	return &AppError{
		Err:        ErrExpiredLeakage,
		Code:       "EXPIRED_LEAKAGE",
		Message:    fmt.Sprintf("expired lot %s selected for ordinary deduction on item %s", lotID, itemID),
		StatusCode: http.StatusInternalServerError,
		Details:    map[string]string{"item_id": itemID, "lot_id": lotID},
	}
}

// RecountUnderflow reports a recount decrease that exceeds the total
// remainder across all lots, indicating ledger/total desynchronization.
func RecountUnderflow(itemID string, delta, available string) *AppError {
	return &AppError{
		Err:        ErrRecountUnderflow,
		Code:       "RECOUNT_UNDERFLOW",
		Message:    fmt.Sprintf("recount delta %s exceeds total remainder %s on item %s", delta, available, itemID),
		StatusCode: http.StatusInternalServerError,
		Details:    map[string]string{"item_id": itemID, "delta": delta, "available": available},
	}
}

// Conversion error constructors. Each carries enough context for a caller
// to resolve the condition out-of-band.

func UnknownUnit(unit string) *AppError {
	return &AppError{
		Err:        ErrUnknownUnit,
		Code:       "UNKNOWN_UNIT",
		Message:    fmt.Sprintf("unit %q is not in the unit catalog", unit),
		StatusCode: http.StatusUnprocessableEntity,
		Details:    map[string]string{"unit": unit},
	}
}

func MissingDensity(fromUnit, toUnit, itemID string) *AppError {
	return &AppError{
		Err:        ErrMissingDensity,
		Code:       "MISSING_DENSITY",
		Message:    fmt.Sprintf("converting %s to %s requires a positive density", fromUnit, toUnit),
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]string{
			"from_unit": fromUnit,
			"to_unit":   toUnit,
			"item_id":   itemID,
		},
	}
}

func MissingCustomMapping(fromUnit, toUnit string) *AppError {
	return &AppError{
		Err:        ErrMissingCustomMapping,
		Code:       "MISSING_CUSTOM_MAPPING",
		Message:    fmt.Sprintf("no custom mapping path from %s to %s", fromUnit, toUnit),
		StatusCode: http.StatusUnprocessableEntity,
		Details:    map[string]string{"from_unit": fromUnit, "to_unit": toUnit},
	}
}

func UnsupportedConversion(fromUnit, toUnit string) *AppError {
	return &AppError{
		Err:        ErrUnsupportedConversion,
		Code:       "UNSUPPORTED_CONVERSION",
		Message:    fmt.Sprintf("cannot convert %s to %s", fromUnit, toUnit),
		StatusCode: http.StatusUnprocessableEntity,
		Details:    map[string]string{"from_unit": fromUnit, "to_unit": toUnit},
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
