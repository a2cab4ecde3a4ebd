// Package server wires the relay into an HTTP server: it builds the
// relay from configuration, mounts it on the router and applies config
// reloads while serving.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/teilomillet/chatrelay/config"
	"github.com/teilomillet/chatrelay/server/circuitbreaker"
	"github.com/teilomillet/chatrelay/server/handlers"
	"github.com/teilomillet/chatrelay/server/metrics"
	"github.com/teilomillet/chatrelay/server/routing"
	"go.uber.org/zap"
)

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	builder    *RelayBuilder
	chat       *handlers.ChatHandler
	router     *routing.Router
	httpServer *http.Server
	watcher    config.Watcher
}

// Option customizes a Server.
type Option func(*Server)

// WithConfigWatcher makes the server rebuild its relay whenever w
// publishes a new configuration.
func WithConfigWatcher(w config.Watcher) Option {
	return func(s *Server) { s.watcher = w }
}

// WithProviderFactory replaces provider.New, mostly for tests.
func WithProviderFactory(f ProviderFactory) Option {
	return func(s *Server) { s.builder.NewProvider = f }
}

// WithMetrics uses m instead of a fresh metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
		s.builder.Metrics = m
		s.builder.BreakerMetrics = nil
		if m != nil {
			s.builder.BreakerMetrics = circuitbreaker.NewMetrics(m.Registerer())
		}
	}
}

// NewServer creates a server for cfg. Missing provider settings do not
// prevent startup; they are reported on each chat request.
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := metrics.NewMetrics()
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		builder: NewRelayBuilder(logger, m),
	}
	for _, opt := range opts {
		opt(s)
	}

	r, err := s.builder.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("build relay: %w", err)
	}
	s.chat = handlers.NewChatHandler(r, logger)
	s.router = routing.NewRouter(cfg, s.chat, s.metrics, logger)

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Start starts the server and blocks until ctx is done or the listener
// fails. In-flight requests get cfg.Server.ShutdownTimeout to finish.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	if s.watcher != nil {
		go s.watchConfig(ctx, s.watcher.Subscribe())
	}

	go func() {
		s.logger.Info("Server started",
			zap.String("address", s.httpServer.Addr),
			zap.String("chat_path", s.cfg.Server.ChatPath),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info("Shutting down server", zap.Duration("timeout", timeout))
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		return nil

	case err := <-errChan:
		return err
	}
}

func (s *Server) watchConfig(ctx context.Context, updates <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			s.Reload(cfg)
		}
	}
}

// Reload rebuilds the relay from cfg and swaps it in. Requests already
// in flight finish on the previous relay. Listener, route, rate limit
// and metrics settings only take effect after a restart.
func (s *Server) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	r, err := s.builder.Build(cfg)
	if err != nil {
		s.logger.Error("Failed to apply new config, keeping current relay", zap.Error(err))
		return
	}
	s.chat.SetRelay(r)

	if cfg.Server != s.cfg.Server || cfg.RateLimit != s.cfg.RateLimit || cfg.Metrics != s.cfg.Metrics {
		s.logger.Warn("Server, rate limit and metrics changes require a restart")
	}
	s.logger.Info("Relay reloaded")
}
