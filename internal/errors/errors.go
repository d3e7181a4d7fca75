package errors

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when an operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrForbidden is returned when the caller is not authorized for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidAmount is returned when a monetary input is non-positive or malformed.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidInput is returned for malformed non-monetary input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEvidenceRequired is returned when work is completed without evidence.
	ErrEvidenceRequired = errors.New("evidence required")
	// ErrCapacityExceeded is returned when a provider is at their active slice limit.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrExternalProvider is returned when a ledger or jury call failed; callers may retry.
	ErrExternalProvider = errors.New("external provider failure")
	// ErrAlreadyProcessed signals an idempotent no-op.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrConflict is returned when a unique resource already exists.
	ErrConflict = errors.New("already exists")
)

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Reference string `json:"reference,omitempty"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Reference  string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error:     e.Message,
		Code:      e.Code,
		Reference: e.Reference,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Retryable reports whether the caller may safely retry the failed operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrExternalProvider)
}

// MapErrorToHTTP maps domain errors to HTTP errors. Provider failures and
// unknown errors never expose their detail; reference is the correlation id
// the caller can quote to support.
func MapErrorToHTTP(err error, reference string) *HTTPError {
	var httpErr *HTTPError
	switch {
	case errors.Is(err, ErrNotFound):
		httpErr = NewHTTPError(http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, ErrInvalidState):
		httpErr = NewHTTPError(http.StatusConflict, err.Error(), "INVALID_STATE")
	case errors.Is(err, ErrForbidden):
		httpErr = NewHTTPError(http.StatusForbidden, "forbidden", "FORBIDDEN")
	case errors.Is(err, ErrInvalidAmount):
		httpErr = NewHTTPError(http.StatusBadRequest, err.Error(), "INVALID_AMOUNT")
	case errors.Is(err, ErrInvalidInput):
		httpErr = NewHTTPError(http.StatusBadRequest, err.Error(), "INVALID_INPUT")
	case errors.Is(err, ErrEvidenceRequired):
		httpErr = NewHTTPError(http.StatusUnprocessableEntity, err.Error(), "EVIDENCE_REQUIRED")
	case errors.Is(err, ErrCapacityExceeded):
		httpErr = NewHTTPError(http.StatusConflict, err.Error(), "CAPACITY_EXCEEDED")
	case errors.Is(err, ErrConflict):
		httpErr = NewHTTPError(http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, ErrAlreadyProcessed):
		httpErr = NewHTTPError(http.StatusOK, "already processed", "ALREADY_PROCESSED")
	case errors.Is(err, ErrExternalProvider):
		httpErr = NewHTTPError(http.StatusBadGateway, "payment or adjudication provider unavailable, please retry", "PROVIDER_UNAVAILABLE")
	default:
		httpErr = NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
	httpErr.Reference = reference
	return httpErr
}
