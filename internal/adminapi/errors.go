package adminapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wamanager/console/internal/infrastructure/resilience"
)

// Status classes. Every *APIError wraps exactly one of them.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrRateLimited   = errors.New("rate limited")
	ErrServer        = errors.New("server error")
	ErrRequestFailed = errors.New("request failed")

	// ErrBadResponse is returned when a response body cannot be decoded
	ErrBadResponse = errors.New("bad response")
)

// APIError is a non-2xx HTTP response
type APIError struct {
	Status    int
	Method    string
	Path      string
	Message   string
	RequestID string
	Fields    map[string]string
	kind      error
}

// Error implements error
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

// Unwrap returns the status class sentinel
func (e *APIError) Unwrap() error {
	return e.kind
}

func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnprocessableEntity, status == http.StatusBadRequest:
		return ErrValidation
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrServer
	default:
		return ErrRequestFailed
	}
}

// BusinessError is a 2xx response whose envelope reports failure
// ({code != 0} or {success: false}). Its text is the server message.
type BusinessError struct {
	Code    int
	Message string
}

// Error implements error
func (e *BusinessError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request rejected with code %d", e.Code)
	}
	return e.Message
}

// UserMessage returns the text to show the operator for err
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var biz *BusinessError
	if errors.As(err, &biz) {
		return biz.Error()
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" && apiErr.Status < 500 {
		return apiErr.Message
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Your session has expired, please sign in again"
	case errors.Is(err, ErrForbidden):
		return "You do not have permission to perform this action"
	case errors.Is(err, ErrNotFound):
		return "The requested resource was not found"
	case errors.Is(err, ErrValidation):
		return "Please check the submitted data"
	case errors.Is(err, ErrRateLimited):
		return "Too many requests, please try again later"
	case errors.Is(err, ErrServer):
		return "The server encountered an error, please try again later"
	case errors.Is(err, ErrRequestFailed):
		return "The request could not be completed"
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return "The service is temporarily unavailable, please try again later"
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out"
	case errors.Is(err, context.Canceled):
		return "The request was cancelled"
	case errors.Is(err, ErrBadResponse):
		return "The server returned an unexpected response"
	default:
		return "Network error, please check your connection"
	}
}

// countsAgainstBreaker limits breaker failures to transport and 5xx errors
func countsAgainstBreaker(err error) bool {
	if err == nil {
		return false
	}
	var biz *BusinessError
	if errors.As(err, &biz) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return !errors.Is(err, ErrBadResponse)
}
