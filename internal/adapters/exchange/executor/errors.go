package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds for executor errors.
var (
	ErrInvalidRequest = errors.New("invalid vendor request")
)

// ErrorBody is the vendor's JSON error payload, parsed leniently.
type ErrorBody struct {
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Errors  []ErrorItem `json:"errors,omitempty"`
}

// ErrorItem is one field-level complaint inside ErrorBody.
type ErrorItem struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// VendorAPIError is returned when a vendor call fails terminally or exhausts
// its retries. Status is 0 when no HTTP response was received.
type VendorAPIError struct {
	Operation string
	Status    int
	Body      []byte
	Detail    *ErrorBody
	Attempts  int
	Err       error
}

func newStatusError(operation string, status int, body []byte, attempts int) *VendorAPIError {
	e := &VendorAPIError{
		Operation: operation,
		Status:    status,
		Body:      body,
		Attempts:  attempts,
	}
	var detail ErrorBody
	if len(body) > 0 && json.Unmarshal(body, &detail) == nil {
		e.Detail = &detail
	}
	return e
}

func (e *VendorAPIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("vendor %s: no response after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
	}
	msg := http.StatusText(e.Status)
	if e.Detail != nil && e.Detail.Message != "" {
		msg = e.Detail.Message
	}
	return fmt.Sprintf("vendor %s: status %d after %d attempt(s): %s", e.Operation, e.Status, e.Attempts, msg)
}

func (e *VendorAPIError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class is one the executor retries.
func (e *VendorAPIError) Retryable() bool {
	return e.Status == 0 || retryableStatus(e.Status)
}

// Unauthorized reports a 401 from the vendor.
func (e *VendorAPIError) Unauthorized() bool { return e.Status == http.StatusUnauthorized }

// NotFound reports a 404 from the vendor.
func (e *VendorAPIError) NotFound() bool { return e.Status == http.StatusNotFound }

// AuthenticationError wraps a failed credential exchange. It is fatal for the
// current call only; the next call tries again.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("vendor authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AsVendorAPIError is errors.As for *VendorAPIError.
func AsVendorAPIError(err error) (*VendorAPIError, bool) {
	var apiErr *VendorAPIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsAuthentication reports whether err is or wraps an AuthenticationError.
func IsAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}
