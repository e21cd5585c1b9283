package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keymint/keymint/internal/config"
	"github.com/keymint/keymint/internal/handler"
	"github.com/keymint/keymint/internal/issuance"
	"github.com/keymint/keymint/internal/openapi"
	"github.com/keymint/keymint/internal/owner"
	"github.com/keymint/keymint/internal/server/middleware"
	"github.com/keymint/keymint/internal/service"
	"github.com/keymint/keymint/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RateLimit       int // requests per minute per client; 0 disables
	APIKeyHeader    string
	OwnerDirectory  bool // mount /api/v1/owners
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		RequestTimeout:  10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		CORSOrigins:     []string{"*"},
		RateLimit:       100,
		APIKeyHeader:    "X-API-Key",
		OwnerDirectory:  true,
	}
}

// FromConfig builds a server Config from the loaded keymint configuration.
func FromConfig(c *config.Config) Config {
	return Config{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		RequestTimeout:  c.Server.RequestTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		CORSOrigins:     c.Server.CORSOrigins,
		RateLimit:       c.Server.RateLimit,
		APIKeyHeader:    c.Auth.APIKeyHeader,
		OwnerDirectory:  c.Owners.Source == "" || c.Owners.Source == owner.SourceStore,
	}
}

// Server is the keymint admin HTTP server. It owns the Chi router and
// serves the issuance service and the bundled owner directory.
type Server struct {
	cfg        Config
	router     chi.Router
	keys       *issuance.Service
	store      *store.Store
	authSvc    *service.AuthService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, keys *issuance.Service, st *store.Store, authSvc *service.AuthService, logger *slog.Logger) *Server {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		keys:    keys,
		store:   st,
		authSvc: authSvc,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", s.cfg.APIKeyHeader, "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if s.cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(s.cfg.RequestTimeout))
	}
	if s.cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(s.cfg.RateLimit))
	}

	// --- Probes and metadata (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.json", handler.NewOpenAPIHandler(openapi.Options{
		Version:      s.cfg.Version,
		APIKeyHeader: s.cfg.APIKeyHeader,
	}).ServeSpec)

	keyHandler := handler.NewKeyHandler(s.keys, s.cfg.APIKeyHeader)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		// Verification is authenticated by the presented key itself.
		r.Group(func(r chi.Router) {
			if s.cfg.RateLimit > 0 {
				r.Use(middleware.RateLimitByHeader(s.cfg.APIKeyHeader, s.cfg.RateLimit))
			}
			r.Post("/verify", keyHandler.Verify)
		})

		// Management endpoints require an operator token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc, s.cfg.APIKeyHeader))
			r.Use(middleware.RequireOperator())

			r.Get("/keys", keyHandler.ListKeys)
			r.Post("/keys", keyHandler.IssueKey)
			r.Get("/keys/{name}", keyHandler.GetKey)
			r.Post("/keys/{name}/deactivate", keyHandler.DeactivateKey)

			if s.cfg.OwnerDirectory {
				ownerHandler := handler.NewOwnerHandler(s.store)
				r.Get("/owners", ownerHandler.ListOwners)
				r.Post("/owners", ownerHandler.CreateOwner)
			}
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the key store answers
// a ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the key store.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.keys.Wait()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close key store", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
