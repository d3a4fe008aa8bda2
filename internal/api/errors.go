package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an API error class in responses.
type ErrorCode int

const (
	ErrBadRequest         ErrorCode = 1000
	ErrNotFound           ErrorCode = 1004
	ErrInternalServer     ErrorCode = 1007
	ErrServiceUnavailable ErrorCode = 1008
)

// AppError is an error with an HTTP status and a client-facing message.
type AppError struct {
	HTTPCode int       `json:"-"`
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
	Details  any       `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("error code: %d, error message: %s, error details: %v", e.Code, e.Message, e.Details)
}

// WithDetails attaches details to the error.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func NewBadRequestError(message string) *AppError {
	return &AppError{HTTPCode: http.StatusBadRequest, Code: ErrBadRequest, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{HTTPCode: http.StatusNotFound, Code: ErrNotFound, Message: message}
}

func NewInternalServerError(message string) *AppError {
	return &AppError{HTTPCode: http.StatusInternalServerError, Code: ErrInternalServer, Message: message}
}

func NewServiceUnavailableError(message string) *AppError {
	return &AppError{HTTPCode: http.StatusServiceUnavailable, Code: ErrServiceUnavailable, Message: message}
}

// IsAppError unwraps err to an AppError.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
