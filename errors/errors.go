// Package errors provides the error model for the chat relay.
// It includes a discriminated error type, the JSON failure body written to
// clients, and integrated logging with Uber's zap logger.
//
// Every failure the relay can produce is a *RelayError carrying a Kind, so
// callers and tests branch on the kind instead of parsing free text:
//
//	var relayErr *errors.RelayError
//	if errors.As(err, &relayErr) && relayErr.Kind == errors.ConfigurationError {
//	    // relayErr.Missing lists the absent settings
//	}
//
// Failures are always written with the same body shape:
//
//	{"error": "Server error", "details": "connection refused"}
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// If nil is provided, the function will do nothing to prevent
// accidentally disabling logging.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// Kind discriminates the failure classes the relay can produce.
type Kind string

const (
	// ConfigurationError means one or more required settings are absent.
	// It is detected before any network call.
	ConfigurationError Kind = "configuration"

	// ProviderError means the upstream chat-completion call failed
	// (network, authentication, rate limit, open circuit).
	ProviderError Kind = "provider"

	// MalformedResponseError means the provider answered without any
	// usable choice.
	MalformedResponseError Kind = "malformed_response"

	// InternalError represents unexpected failures such as recovered panics.
	InternalError Kind = "internal"

	// RateLimitError is produced by the optional inbound rate limiter.
	RateLimitError Kind = "rate_limit"

	// InvalidRequestError covers requests rejected by the transport, such
	// as oversized bodies or unsupported methods.
	InvalidRequestError Kind = "invalid_request"
)

// RelayError is the error type produced at the relay boundary. It is
// rendered to clients as a Response and keeps the underlying cause for
// logging and errors.Is / errors.As chains.
type RelayError struct {
	// Kind categorizes the failure
	Kind Kind

	// Message is the short, client-facing summary ("Server error")
	Message string

	// Details is the human-readable failure description
	Details string

	// Missing lists absent setting names for ConfigurationError
	Missing []string

	// Code is the HTTP status code
	Code int

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error, implementing the unwrap
// interface for error chains.
func (e *RelayError) Unwrap() error {
	return e.err
}

// Is implements error matching for errors.Is, allowing kind-based
// error matching while ignoring other fields.
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Response returns the JSON body clients receive for this error.
func (e *RelayError) Response() Response {
	return Response{Error: e.Message, Details: e.Details}
}

// WriteError formats and writes a RelayError to an http.ResponseWriter.
// It sets the JSON content type and status code, then writes the body.
// Headers already set on w (CORS, request ID) are preserved.
func WriteError(w http.ResponseWriter, err *RelayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	if encErr := json.NewEncoder(w).Encode(err.Response()); encErr != nil {
		DefaultLogger.Error("failed to encode error response", zap.Error(encErr))
	}
}

// Error is a drop-in replacement for http.Error that writes an
// InternalError with the given details and status code.
func Error(w http.ResponseWriter, details string, code int) {
	WriteError(w, &RelayError{
		Kind:    InternalError,
		Message: "Server error",
		Details: details,
		Code:    code,
	})
}
