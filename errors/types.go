package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// MissingSettingsPrefix starts the details of every ConfigurationError.
const MissingSettingsPrefix = "Missing environment variables: "

// NewConfigurationError creates the error returned when required settings
// are absent. The details enumerate exactly the missing names, in the
// order given.
//
// Example:
//
//	err := NewConfigurationError([]string{"AZURE_OPENAI_KEY"})
//	// details: "Missing environment variables: AZURE_OPENAI_KEY"
func NewConfigurationError(missing []string) *RelayError {
	names := append([]string(nil), missing...)
	return &RelayError{
		Kind:    ConfigurationError,
		Message: "Server configuration error",
		Details: MissingSettingsPrefix + strings.Join(names, ", "),
		Missing: names,
		Code:    http.StatusInternalServerError,
	}
}

// NewProviderError wraps a failed provider call. The details carry the
// underlying error's message verbatim.
//
// Example:
//
//	err := NewProviderError(netErr)
func NewProviderError(err error) *RelayError {
	details := "unknown provider error"
	if err != nil {
		details = err.Error()
	}
	return &RelayError{
		Kind:    ProviderError,
		Message: "Server error",
		Details: details,
		Code:    http.StatusInternalServerError,
		err:     err,
	}
}

// NewMalformedResponseError is used when the provider returned a response
// the relay cannot read a reply from, such as an empty choices list.
func NewMalformedResponseError(reason string) *RelayError {
	return &RelayError{
		Kind:    MalformedResponseError,
		Message: "Server error",
		Details: reason,
		Code:    http.StatusInternalServerError,
	}
}

// NewInternalError creates an internal server error for unexpected
// failures such as panics.
func NewInternalError(err error) *RelayError {
	details := "an internal error occurred"
	if err != nil {
		details = err.Error()
	}
	return &RelayError{
		Kind:    InternalError,
		Message: "Server error",
		Details: details,
		Code:    http.StatusInternalServerError,
		err:     err,
	}
}

// NewRateLimitError creates the error written by the inbound rate limiter.
func NewRateLimitError(limit int, window string) *RelayError {
	return &RelayError{
		Kind:    RateLimitError,
		Message: "Rate limit exceeded",
		Details: fmt.Sprintf("at most %d requests per %s", limit, window),
		Code:    http.StatusTooManyRequests,
	}
}

// Redacted returns a copy of e whose details are replaced by the given
// text. The kind, code and cause are kept.
func (e *RelayError) Redacted(details string) *RelayError {
	cp := *e
	cp.Details = details
	return &cp
}

// NewRequestTooLargeError is returned when a request body exceeds limit
// bytes. The chat route only ever answers 200 or 500, so it uses 500.
func NewRequestTooLargeError(limit int64) *RelayError {
	return &RelayError{
		Kind:    InvalidRequestError,
		Message: "Server error",
		Details: fmt.Sprintf("request body exceeds %d bytes", limit),
		Code:    http.StatusInternalServerError,
	}
}

// NewMethodNotAllowedError is returned for methods a route does not serve.
func NewMethodNotAllowedError(method string) *RelayError {
	return &RelayError{
		Kind:    InvalidRequestError,
		Message: "Method not allowed",
		Details: fmt.Sprintf("method %s is not supported", method),
		Code:    http.StatusMethodNotAllowed,
	}
}

// NewNotFoundError is returned for paths the server does not serve.
func NewNotFoundError(path string) *RelayError {
	return &RelayError{
		Kind:    InvalidRequestError,
		Message: "Not found",
		Details: fmt.Sprintf("no route for %s", path),
		Code:    http.StatusNotFound,
	}
}
