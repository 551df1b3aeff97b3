package error

import (
	"context"
	"errors"
	"net/http"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/ratelimit"
)

type AppError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Status      int      `json:"status"`
	Suggestions []string `json:"suggestions,omitempty"`
	Index       *int     `json:"index,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest     = &AppError{Code: "BAD_REQUEST", Message: "Bad request", Status: http.StatusBadRequest}
	ErrUnauthorized   = &AppError{Code: "UNAUTHORIZED", Message: "Unauthorized", Status: http.StatusUnauthorized}
	ErrNotFound       = &AppError{Code: "NOT_FOUND", Message: "Not found", Status: http.StatusNotFound}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "Internal server error", Status: http.StatusInternalServerError}
	ErrTooManyRequest = &AppError{Code: "RATE_LIMIT_EXCEEDED", Message: "Too many requests", Status: http.StatusTooManyRequests}
)

func NewBadRequest(message string) *AppError {
	return &AppError{Code: "BAD_REQUEST", Message: message, Status: http.StatusBadRequest}
}

func NewUnauthorized(message string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Message: message, Status: http.StatusUnauthorized}
}

func NewNotFound(message string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: message, Status: http.StatusNotFound}
}

func NewInternalServer(message string) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: message, Status: http.StatusInternalServerError}
}

func NewTooManyRequests(message string) *AppError {
	return &AppError{Code: "RATE_LIMIT_EXCEEDED", Message: message, Status: http.StatusTooManyRequests}
}

var kindStatus = map[domain.ErrorKind]struct {
	code   string
	status int
}{
	domain.KindCompile:          {"COMPILE_FAILED", http.StatusUnprocessableEntity},
	domain.KindValidation:       {"VALIDATION_FAILED", http.StatusBadRequest},
	domain.KindResolution:       {"RESOLUTION_FAILED", http.StatusUnprocessableEntity},
	domain.KindExecution:        {"EXECUTION_FAILED", http.StatusInternalServerError},
	domain.KindNotFound:         {"NOT_FOUND", http.StatusNotFound},
	domain.KindPermission:       {"PERMISSION_DENIED", http.StatusForbidden},
	domain.KindRateLimited:      {"RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests},
	domain.KindTimeout:          {"SERVICE_BUSY", http.StatusServiceUnavailable},
	domain.KindConfirmationNeed: {"CONFIRMATION_REQUIRED", http.StatusConflict},
}

// MapError converts any error into an AppError with an HTTP status
func MapError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var ce *domain.CommandError
	if errors.As(err, &ce) {
		m, ok := kindStatus[ce.Kind]
		if !ok {
			return NewInternalServer("An unexpected error occurred")
		}
		out := &AppError{Code: m.code, Message: ce.Message, Status: m.status, Suggestions: ce.Suggestions}
		if ce.Index >= 0 {
			idx := ce.Index
			out.Index = &idx
		}
		if ce.Kind == domain.KindExecution {
			out.Message = "The command could not be completed"
		}
		return out
	}

	switch {
	case errors.Is(err, ratelimit.ErrQueueFull):
		return NewTooManyRequests("The service is busy, try again shortly")
	case errors.Is(err, ratelimit.ErrLimiterStopped):
		return &AppError{Code: "SERVICE_UNAVAILABLE", Message: "The service is shutting down", Status: http.StatusServiceUnavailable}
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: "SERVICE_BUSY", Message: "The request timed out", Status: http.StatusServiceUnavailable}
	default:
		return NewInternalServer("An unexpected error occurred")
	}
}
