// Package apigw serves the relay behind AWS API Gateway proxy events, for
// deployments that run it as a Lambda function instead of an HTTP server.
package apigw

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/teilomillet/chatrelay/errors"
	"github.com/teilomillet/chatrelay/server/middleware"
	"github.com/teilomillet/chatrelay/server/relay"
	"go.uber.org/zap"
)

// Handler adapts a relay to API Gateway proxy integration.
type Handler struct {
	relay  *relay.Relay
	logger *zap.Logger
}

// NewHandler creates a Handler for r.
func NewHandler(r *relay.Relay, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{relay: r, logger: logger}
}

// Handle answers one proxy event. Failures are encoded in the response;
// the returned error is always nil so API Gateway never substitutes its
// own 502 body.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	requestID := req.RequestContext.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic recovered",
				zap.Any("error", rec),
				zap.ByteString("stacktrace", debug.Stack()),
				zap.String("request_id", requestID),
			)
			resp, err = h.reject(errors.NewInternalError(fmt.Errorf("panic: %v", rec)), requestID), nil
		}
	}()

	switch req.HTTPMethod {
	case http.MethodOptions:
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    flatten(relay.CORSHeaders()),
		}, nil
	case http.MethodPost, "":
	default:
		return h.reject(errors.NewMethodNotAllowedError(req.HTTPMethod), requestID), nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			h.logger.Debug("Undecodable base64 body", zap.String("request_id", requestID), zap.Error(err))
			decoded = nil
		}
		body = decoded
	}

	ctx = relay.WithRequestID(ctx, requestID)
	out := h.relay.Handle(ctx, relay.DecodeRequest(body))

	headers := flatten(out.Header)
	headers[middleware.RequestIDHeader] = requestID
	return events.APIGatewayProxyResponse{
		StatusCode: out.StatusCode,
		Headers:    headers,
		Body:       string(out.Body),
	}, nil
}

func (h *Handler) reject(relayErr *errors.RelayError, requestID string) events.APIGatewayProxyResponse {
	errors.LogError(h.logger, relayErr, requestID)
	body, _ := json.Marshal(relayErr.Response())
	headers := flatten(relay.CORSHeaders())
	headers["Content-Type"] = "application/json"
	headers[middleware.RequestIDHeader] = requestID
	return events.APIGatewayProxyResponse{
		StatusCode: relayErr.Code,
		Headers:    headers,
		Body:       string(body),
	}
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
