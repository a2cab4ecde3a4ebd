package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler wraps an http.Handler and converts panics into a 500
// failure body.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					stack := debug.Stack()
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.ByteString("stacktrace", stack),
						zap.String("request_id", w.Header().Get("X-Request-ID")),
					)

					WriteError(w, NewInternalError(fmt.Errorf("panic: %v", rec)))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogError logs an error with its context
func LogError(logger *zap.Logger, err error, requestID string) {
	if relayErr, ok := err.(*RelayError); ok {
		fields := []zap.Field{
			zap.String("error_kind", string(relayErr.Kind)),
			zap.String("message", relayErr.Message),
			zap.String("details", relayErr.Details),
			zap.Int("code", relayErr.Code),
			zap.String("request_id", requestID),
		}
		if len(relayErr.Missing) > 0 {
			fields = append(fields, zap.Strings("missing", relayErr.Missing))
		}
		if cause := relayErr.Unwrap(); cause != nil {
			fields = append(fields, zap.NamedError("cause", cause))
		}
		logger.Error("request error", fields...)
	} else {
		logger.Error("unexpected error",
			zap.Error(err),
			zap.String("request_id", requestID),
		)
	}
}
