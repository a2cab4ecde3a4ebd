// Package routing assembles the HTTP surface of the relay server: the
// global middleware stack, the chat route with its preflight, health and
// metrics endpoints, and JSON answers for unknown routes and methods.
package routing

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/errors"
	"github.com/teilomillet/chatrelay/server/handlers"
	"github.com/teilomillet/chatrelay/server/metrics"
	"github.com/teilomillet/chatrelay/server/middleware"
	"go.uber.org/zap"
)

// Router handles HTTP routing for the relay.
type Router struct {
	router  chi.Router
	chat    *handlers.ChatHandler
	limiter *middleware.RateLimiter
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     *config.Config
}

// NewRouter creates a router serving chat on cfg.Server.ChatPath.
// m may be nil, in which case neither request metrics nor the metrics
// endpoint are installed.
func NewRouter(cfg *config.Config, chat *handlers.ChatHandler, m *metrics.Metrics, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		router:  chi.NewRouter(),
		chat:    chat,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
	}
	if cfg.RateLimit.Enabled {
		r.limiter = middleware.NewRateLimiter(cfg.RateLimit, m)
	}

	// Global middleware stack. Panic recovery sits inside RequestID so
	// recovered failures carry the request ID.
	r.router.Use(middleware.RequestID)
	r.router.Use(errors.ErrorHandler(logger))
	r.router.Use(middleware.Logging(logger))
	if m != nil {
		r.router.Use(middleware.PrometheusMetrics(m))
	}
	r.router.Use(middleware.CORS)

	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.router.NotFound(handlers.NotFound)
	r.router.MethodNotAllowed(handlers.MethodNotAllowed)

	r.router.Group(func(router chi.Router) {
		if r.limiter != nil {
			router.Use(r.limiter.Handler)
		}
		router.Post(r.cfg.Server.ChatPath, r.chat.ServeHTTP)
	})
	r.router.Options(r.cfg.Server.ChatPath, handlers.Preflight)

	r.router.Get("/health", r.chat.Health)

	if r.metrics != nil && r.cfg.Metrics.Enabled {
		r.router.Method(http.MethodGet, r.cfg.Metrics.Path, r.metrics.Handler())
	}

	r.logger.Debug("Routes configured",
		zap.String("chat_path", r.cfg.Server.ChatPath),
		zap.Bool("rate_limit", r.limiter != nil),
		zap.Bool("metrics", r.metrics != nil && r.cfg.Metrics.Enabled),
	)
}

// RateLimiter returns the inbound limiter, or nil when rate limiting is
// disabled.
func (r *Router) RateLimiter() *middleware.RateLimiter {
	return r.limiter
}

// ServeHTTP implements the http.Handler interface.
// Delegates request handling to the underlying Chi router.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
