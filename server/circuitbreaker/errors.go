package circuitbreaker

import "github.com/sony/gobreaker"

var (
	// ErrCircuitOpen is returned when the circuit breaker is open
	ErrCircuitOpen = gobreaker.ErrOpenState

	// ErrTooManyRequests is returned when the half-open request quota is used up
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)
