package sdk

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned by the console. They match the "code" field of the
// error envelope.
const (
	CodeNotFound               = "NOT_FOUND"
	CodeAlreadyExists          = "ALREADY_EXISTS"
	CodeInvalidInput           = "INVALID_INPUT"
	CodeValidation             = "VALIDATION_ERROR"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeUpstream               = "UPSTREAM_ERROR"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	CodeTimeout                = "TIMEOUT"
	CodeInternal               = "INTERNAL_ERROR"
	CodeUnknown                = "UNKNOWN"
)

// APIError represents an error response from the console API
type APIError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	StatusCode int            `json:"-"`
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) IsValidation() bool {
	return e.Code == CodeValidation || e.Code == CodeInvalidInput
}

func (e *APIError) IsNotFound() bool {
	return e.Code == CodeNotFound || e.StatusCode == http.StatusNotFound
}

func (e *APIError) IsForbidden() bool {
	return e.Code == CodeForbidden
}

// IsConflict reports a lost race on the same transaction or a duplicate.
// Retrying after a fresh read is safe.
func (e *APIError) IsConflict() bool {
	return e.Code == CodeConcurrentModification || e.Code == CodeAlreadyExists
}

func (e *APIError) IsUnavailable() bool {
	return e.Code == CodeServiceUnavailable
}

// AsAPIError unwraps err to an APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
