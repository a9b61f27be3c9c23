package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int    // HTTP status code
	Code    int    // Discord error code from the body, when present
	Message string // human-readable message from the body
	Raw     []byte // unparsed response body
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status %d code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status %d", e.Status)
}

// IsNotFound reports a 404.
func (e *APIError) IsNotFound() bool { return e.Status == http.StatusNotFound }

// IsForbidden reports a 401 or 403.
func (e *APIError) IsForbidden() bool {
	return e.Status == http.StatusForbidden || e.Status == http.StatusUnauthorized
}

// IsNotFound reports whether err is an APIError with a 404 status.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}

// IsForbidden reports whether err is an APIError with a 401 or 403 status.
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsForbidden()
}

// ErrRetriesExhausted wraps the last failure once the bounded retries for
// 5xx/network errors are spent. It marks the failure as transient: the
// request may well succeed if reissued later.
var ErrRetriesExhausted = errors.New("retries exhausted")

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Raw: body}
	var parsed struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	}
	return apiErr
}

func retryAfterFromBody(body []byte) (d time.Duration, ok bool) {
	var parsed struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &parsed) != nil || parsed.RetryAfter <= 0 {
		return 0, false
	}
	return time.Duration(parsed.RetryAfter * float64(time.Second)), true
}
