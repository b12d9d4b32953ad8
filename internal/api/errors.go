// errors.go - API error responses and domain error mapping
package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/instabrief/backend/internal/models"
	"github.com/instabrief/backend/internal/queue"
	"github.com/instabrief/backend/internal/session"
	"github.com/labstack/echo/v4"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewInvalidSettingsError creates a 400 error for rejected summary settings
func NewInvalidSettingsError(cause error) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "INVALID_SETTINGS",
		Message: "summary settings rejected",
		Details: cause.Error(),
	}
}

// NewNoItemsError creates the 400 returned when processing an empty queue
func NewNoItemsError() *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "NO_ITEMS",
		Message: "Please upload at least one file",
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// fromDomainError maps queue and session sentinel errors onto API errors.
// Unknown errors come back as nil.
func fromDomainError(err error, sessionID string) *APIError {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, queue.ErrClosed):
		return NewNotFoundError("session", sessionID)
	case errors.Is(err, session.ErrTooManySessions):
		return NewServiceUnavailableError(err.Error())
	case errors.Is(err, queue.ErrNoItems):
		return NewNoItemsError()
	case errors.Is(err, queue.ErrAlreadyProcessing):
		return NewConflictError("queue is already processing")
	case errors.Is(err, queue.ErrProcessing):
		return NewConflictError("settings are locked while processing")
	case errors.Is(err, models.ErrInvalidSettings):
		return NewInvalidSettingsError(err)
	}
	return nil
}

var exposeDetails atomic.Bool

func init() {
	exposeDetails.Store(true)
}

// SetExposeDetails controls whether unexpected errors carry their message
// in the response body.
func SetExposeDetails(on bool) {
	exposeDetails.Store(on)
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = &APIError{
			Status:  http.StatusInternalServerError,
			Code:    "UNKNOWN_ERROR",
			Message: "An unexpected error occurred",
		}
		if exposeDetails.Load() {
			apiErr.Details = err.Error()
		}
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(apiErr.Status)
		return
	}
	c.JSON(apiErr.Status, apiErr)
}
