// Package server sets up the HTTP server, router, and all route definitions.
//
// ROUTES:
//
//	POST /analyze        → static analysis (never spawns a process)
//	POST /run            → compile and run once
//	POST /debug          → variables, call stack, output
//	POST /run-tests      → one execution per test case
//	GET  /api/languages  → supported languages and their tools
//	GET  /healthz        → liveness plus per-language toolchain availability
//	GET  /metrics        → Prometheus
//
// The four mode routes sit behind the rate limiter and the service token
// check. Everything is gzip-compressed when the client accepts it.
//
// This is the composition root for HTTP: main.go builds the engine and the
// runner, this package decides which URL reaches which handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/handler"
	"github.com/sakif/code-runner/internal/middleware"
)

// Engine is everything the routes need from the execution engine.
type Engine interface {
	handler.Executor
	handler.Catalog
}

// Config holds server configuration.
type Config struct {
	Port int

	// RateLimitRPS of 0 disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// ServiceTokenSecret of "" disables the service token check.
	ServiceTokenSecret string

	// WriteTimeout must exceed the longest request: compile plus run, or a
	// whole test suite.
	WriteTimeout time.Duration
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	engine  Engine
	limiter *middleware.RateLimiter

	// onShutdown runs after the listener has drained, in order.
	onShutdown []func()
}

// New creates a new Server with the given config.
func New(cfg Config, eng Engine, logger *slog.Logger) (*Server, error) {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		engine: eng,
	}

	var tokens *auth.TokenService
	if cfg.ServiceTokenSecret != "" {
		var err error
		tokens, err = auth.NewTokenService(cfg.ServiceTokenSecret)
		if err != nil {
			return nil, fmt.Errorf("creating token service: %w", err)
		}
	} else {
		logger.Warn("SERVICE_TOKEN_SECRET not set, mode endpoints are unauthenticated")
	}

	if cfg.RateLimitRPS > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	s.setupRoutes(tokens)
	return s, nil
}

// OnShutdown registers fn to run after the server stops accepting requests.
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Handler returns the root handler, gzip included.
func (s *Server) Handler() http.Handler {
	return gzhttp.GzipHandler(s.router)
}

// setupRoutes configures all middleware and route handlers.
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: Logger reads it
//  2. RealIP: the rate limiter keys on it
//  3. Recoverer: a panicking handler answers 500 instead of killing the server
//  4. Logger
func (s *Server) setupRoutes(tokens *auth.TokenService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	system := handler.NewSystemHandler(s.engine)
	s.router.Get("/healthz", system.HandleHealth)
	s.router.Get("/api/languages", system.HandleLanguages)
	s.router.Handle("/metrics", promhttp.Handler())

	exec := handler.NewExecuteHandler(s.engine, s.logger)
	s.router.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Use(middleware.RequireServiceToken(tokens))

		r.Post("/analyze", exec.HandleAnalyze)
		r.Post("/run", exec.HandleRun)
		r.Post("/debug", exec.HandleDebug)
		r.Post("/run-tests", exec.HandleRunTests)
	})
}

// Start serves until SIGINT/SIGTERM or ctx is cancelled, then shuts down
// gracefully and runs the OnShutdown hooks.
func (s *Server) Start(ctx context.Context) error {
	defer s.runShutdownHooks()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.limiter != nil {
		go s.sweepClients(ctx)
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		// In-flight executions are bounded by their own timeouts.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) runShutdownHooks() {
	for _, fn := range s.onShutdown {
		fn()
	}
}

// sweepClients forgets rate limiter buckets idle for ten minutes.
func (s *Server) sweepClients(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Forget(10 * time.Minute); n > 0 {
				s.logger.Debug("rate limiter swept idle clients", slog.Int("dropped", n))
			}
		}
	}
}
