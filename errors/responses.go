// Package errors provides error response utilities.
package errors

import (
	"errors"
)

// Response is the failure body returned to clients. Configuration and
// provider failures share this one shape.
type Response struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// As is a wrapper around errors.As for better error type assertion
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// KindOf reports the Kind of err, or InternalError when err is not a
// *RelayError.
func KindOf(err error) Kind {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Kind
	}
	return InternalError
}
