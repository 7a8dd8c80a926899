package utils

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrNotFound               = errors.New("resource not found")
	ErrAlreadyExists          = errors.New("resource already exists")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("insufficient permission")
	ErrInternal               = errors.New("internal error")
	ErrTimeout                = errors.New("operation timeout")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrValidation             = errors.New("validation failed")
	ErrUpstream               = errors.New("upstream request failed")
	ErrServiceUnavailable     = errors.New("service unavailable")
)

const (
	CodeNotFound               = "NOT_FOUND"
	CodeAlreadyExists          = "ALREADY_EXISTS"
	CodeInvalidInput           = "INVALID_INPUT"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeInternal               = "INTERNAL_ERROR"
	CodeTimeout                = "TIMEOUT"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeValidation             = "VALIDATION_ERROR"
	CodeUpstream               = "UPSTREAM_ERROR"
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
)

type AppError struct {
	Code    string
	Message string
	Err     error
	Details map[string]any
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]any),
	}
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrorCode returns the AppError code carried anywhere in err's chain, or "".
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func hasCode(err error, sentinel error, code string) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sentinel) || ErrorCode(err) == code
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound, CodeNotFound)
}

func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrAlreadyExists, CodeAlreadyExists)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrValidation, CodeValidation)
}

func IsForbidden(err error) bool {
	return hasCode(err, ErrForbidden, CodeForbidden)
}

func IsConcurrentModification(err error) bool {
	return hasCode(err, ErrConcurrentModification, CodeConcurrentModification)
}

// WrapError annotates err with a message and the caller's stack.
func WrapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrapf(err, format, args...)
}
