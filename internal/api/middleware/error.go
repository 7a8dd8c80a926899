package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/procuredata/console/pkg/utils"
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
}

// ErrorHandler turns a panic in a handler into a 500 with the standard body.
func ErrorHandler() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error().
						Interface("panic", rec).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Bytes("stack", debug.Stack()).
						Msg("Handler panic")
					SendInternalError(w, r, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// SendError writes err with the status its code maps to.
func SendError(w http.ResponseWriter, r *http.Request, err error) {
	SendErrorWithStatus(w, r, err, HTTPStatus(err))
}

func SendErrorWithStatus(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	detail := ErrorDetail{
		Code:      utils.CodeInternal,
		Message:   "internal error",
		Timestamp: time.Now().UTC(),
		RequestID: getRequestID(r),
	}

	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		detail.Code = appErr.Code
		detail.Message = appErr.Message
		if len(appErr.Details) > 0 {
			detail.Details = appErr.Details
		}
	}
	if statusCode >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", detail.RequestID).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}

	WriteJSON(w, statusCode, ErrorResponse{Error: detail})
}

func SendValidationError(w http.ResponseWriter, r *http.Request, message string, details map[string]any) {
	SendErrorWithStatus(w, r, utils.NewAppError(utils.CodeValidation, message, nil).WithDetails(details), http.StatusBadRequest)
}

func SendUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	SendErrorWithStatus(w, r, utils.NewAppError(utils.CodeUnauthorized, message, nil), http.StatusUnauthorized)
}

func SendInternalError(w http.ResponseWriter, r *http.Request, message string) {
	SendErrorWithStatus(w, r, utils.NewAppError(utils.CodeInternal, message, nil), http.StatusInternalServerError)
}

func getRequestID(r *http.Request) string {
	if id := chiMiddleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(err error) int {
	switch utils.ErrorCode(err) {
	case utils.CodeNotFound:
		return http.StatusNotFound
	case utils.CodeAlreadyExists, utils.CodeConcurrentModification:
		return http.StatusConflict
	case utils.CodeInvalidInput, utils.CodeValidation:
		return http.StatusBadRequest
	case utils.CodeUnauthorized:
		return http.StatusUnauthorized
	case utils.CodeForbidden:
		return http.StatusForbidden
	case utils.CodeTimeout:
		return http.StatusGatewayTimeout
	case utils.CodeUpstream:
		return http.StatusBadGateway
	case utils.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	}

	switch {
	case utils.IsNotFound(err):
		return http.StatusNotFound
	case utils.IsAlreadyExists(err), utils.IsConcurrentModification(err):
		return http.StatusConflict
	case utils.IsValidation(err), errors.Is(err, utils.ErrInvalidInput):
		return http.StatusBadRequest
	case utils.IsForbidden(err):
		return http.StatusForbidden
	case errors.Is(err, utils.ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
