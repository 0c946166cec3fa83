package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried by APIError.Code for failures that have no HTTP status of
// their own.
const (
	CodeTimeout         = "TIMEOUT"
	CodeCanceled        = "CANCELED"
	CodeNetwork         = "NETWORK_ERROR"
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidResponse = "INVALID_RESPONSE"
)

var (
	// ErrSessionExpired is wrapped by the error every caller receives when a
	// rejected credential could not be refreshed.
	ErrSessionExpired = errors.New("session expired")

	errRequestTimeout = errors.New("request timeout")
)

// APIError is the uniform failure surfaced to callers.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

func isUnauthorized(err error) bool {
	return IsStatus(err, http.StatusUnauthorized)
}

func sessionExpiredError() *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Code:    CodeSessionExpired,
		Message: "Session expired, please log in again",
		Err:     ErrSessionExpired,
	}
}

func canceledError(ctx context.Context) *APIError {
	return &APIError{
		Status:  0,
		Code:    CodeCanceled,
		Message: "Request canceled",
		Err:     context.Cause(ctx),
	}
}

// transportError classifies a failed round trip. reqCtx is the per-attempt
// context derived from the caller's ctx with the request timeout.
func transportError(ctx, reqCtx context.Context, err error) *APIError {
	switch {
	case ctx.Err() != nil:
		return canceledError(ctx)
	case errors.Is(context.Cause(reqCtx), errRequestTimeout):
		return &APIError{
			Status:  http.StatusRequestTimeout,
			Code:    CodeTimeout,
			Message: "Request timeout",
			Err:     err,
		}
	default:
		msg := err.Error()
		if msg == "" {
			msg = "Network error occurred"
		}
		return &APIError{Status: 0, Code: CodeNetwork, Message: msg, Err: err}
	}
}

// statusError builds the error for a non-2xx response from its body, which the
// backend shapes as {"message": ..., "code": ...}.
func statusError(status int, body []byte) *APIError {
	apiErr := &APIError{
		Status:  status,
		Code:    fmt.Sprintf("HTTP_%d", status),
		Message: fmt.Sprintf("HTTP Error: %d", status),
	}

	var details map[string]any
	if len(body) == 0 || json.Unmarshal(body, &details) != nil {
		return apiErr
	}
	apiErr.Details = details
	if msg, ok := details["message"].(string); ok && msg != "" {
		apiErr.Message = msg
	}
	if code, ok := details["code"].(string); ok && code != "" {
		apiErr.Code = code
	}
	return apiErr
}
