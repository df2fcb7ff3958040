// Package apperr defines the structured error returned by the application
// layers. HTTP servers map it onto a status code and a stable error code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine readable error code.
type Code string

const (
	CodeBadRequest     Code = "BAD_REQUEST"     // 400
	CodeNotFound       Code = "NOT_FOUND"       // 404
	CodeRateLimited    Code = "RATE_LIMITED"    // 429
	CodeProviderFailed Code = "PROVIDER_REQUEST_FAILED" // 502
	CodeUnavailable    Code = "UNAVAILABLE"     // 503
	CodeInternal       Code = "INTERNAL"        // 500
)

// Error carries a code, an HTTP status and a user facing message.
// Err is the optional underlying cause.
type Error struct {
	Code    Code
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadRequest creates a 400 error.
func BadRequest(msg string) *Error {
	return &Error{Code: CodeBadRequest, Status: http.StatusBadRequest, Message: msg}
}

// NotFound creates a 404 error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: msg}
}

// ProviderFailed creates a 502 error for failures of an upstream AI provider.
func ProviderFailed(msg string, err error) *Error {
	return &Error{Code: CodeProviderFailed, Status: http.StatusBadGateway, Message: msg, Err: err}
}

// Unavailable creates a 503 error.
func Unavailable(msg string, err error) *Error {
	return &Error{Code: CodeUnavailable, Status: http.StatusServiceUnavailable, Message: msg, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal error", Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Status returns the HTTP status for err, 500 when err is not an *Error.
func Status(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is a 404 application error.
func IsNotFound(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == CodeNotFound
}
