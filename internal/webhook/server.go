package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/pulldock/internal/config"
	"github.com/mattjoyce/pulldock/internal/events"
	"github.com/mattjoyce/pulldock/internal/log"
)

// Server is the webhook gateway HTTP server.
type Server struct {
	cfg        *config.Config
	dispatcher ActionDispatcher
	store      DeliveryLog
	hub        *events.Hub
	logger     *slog.Logger
	server     *http.Server
	limiter    *rateLimiter
	startedAt  time.Time
}

// New creates a new webhook server instance.
func New(cfg *config.Config, dispatcher ActionDispatcher, store DeliveryLog, hub *events.Hub) *Server {
	var limiter *rateLimiter
	if cfg.Limits.RatePerMinute > 0 {
		limiter = newRateLimiter(cfg.Limits.RatePerMinute)
	}

	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		store:      store,
		hub:        hub,
		logger:     log.WithComponent("webhook"),
		limiter:    limiter,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.cfg.ListenAddr(),
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Webhook handling blocks while actions run, and the SSE stream
		// holds its connection open, so writes get a generous ceiling.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting",
		"listen", s.cfg.ListenAddr(),
		"projects", len(s.cfg.Projects),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post("/webhook/{project}", s.handleWebhook)
	r.Get("/health", s.handleHealth)
	r.Get("/projects", s.handleProjects)

	// Delivery log and event stream, protected when admin_token is set.
	r.Group(func(r chi.Router) {
		r.Use(s.adminAuthMiddleware)
		r.Get("/deliveries", s.handleDeliveries)
		r.Get("/deliveries/{id}", s.handleDelivery)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests (excludes payload content).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
