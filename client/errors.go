package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError is the one error shape callers branch on. Status 0 means the
// request never reached the server.
type APIError struct {
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Detail
	}
	return fmt.Sprintf("%s (status %d)", e.Detail, e.Status)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == status
}

func networkError(err error) *APIError {
	return &APIError{Detail: "Network error. Please check your connection and try again: " + err.Error()}
}

// responseError normalizes a non-2xx response: the backend's detail string
// when the body parses, a generic fallback otherwise.
func responseError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var wire struct {
		Detail    string `json:"detail"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Detail != "" {
		apiErr.Detail = wire.Detail
		apiErr.ErrorCode = wire.ErrorCode
		return apiErr
	}
	apiErr.Detail = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	return apiErr
}
