package provider

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// Class buckets provider failures for logs and metrics.
type Class string

const (
	ClassAuth        Class = "auth"
	ClassRateLimit   Class = "rate_limit"
	ClassBadRequest  Class = "bad_request"
	ClassNotFound    Class = "not_found"
	ClassServer      Class = "server"
	ClassTimeout     Class = "timeout"
	ClassCanceled    Class = "canceled"
	ClassNetwork     Class = "network"
	ClassUnavailable Class = "unavailable"
	ClassUnknown     Class = "unknown"
)

// Classify maps a provider error to its Class.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return classifyStatus(reqErr.HTTPStatusCode)
	}

	switch {
	case errors.Is(err, ErrUnavailable):
		return ClassUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	return ClassUnknown
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ClassAuth
	case code == http.StatusTooManyRequests:
		return ClassRateLimit
	case code == http.StatusNotFound:
		return ClassNotFound
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return ClassTimeout
	case code >= 500:
		return ClassServer
	case code >= 400:
		return ClassBadRequest
	default:
		return ClassUnknown
	}
}
