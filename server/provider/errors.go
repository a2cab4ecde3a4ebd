package provider

import "errors"

var (
	// ErrNotConfigured indicates that required provider settings are missing
	ErrNotConfigured = errors.New("provider is not configured")

	// ErrUnavailable is returned while the circuit breaker rejects calls
	ErrUnavailable = errors.New("provider temporarily unavailable")
)
