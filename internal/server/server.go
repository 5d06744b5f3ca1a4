package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/canvasgate/canvasgate/internal/config"
	"github.com/canvasgate/canvasgate/internal/handler"
	"github.com/canvasgate/canvasgate/internal/model"
	"github.com/canvasgate/canvasgate/internal/observability"
	"github.com/canvasgate/canvasgate/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host                string
	Port                int
	ShutdownTimeout     time.Duration
	CORSOrigins         []string
	MaxBodySize         int64 // bytes
	IPRequestsPerMinute int
	// BaseURL is advertised in the OpenAPI document. Defaults to
	// http://Host:Port.
	BaseURL string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                8080,
		ShutdownTimeout:     30 * time.Second,
		CORSOrigins:         []string{"*"},
		MaxBodySize:         1 << 20, // 1MB
		IPRequestsPerMinute: 300,
	}
}

// Detector is the anomaly detector as seen by the HTTP layer.
type Detector interface {
	handler.ActivityTracker
	handler.ActivityMonitor
}

// Deps are the components the server routes requests to.
type Deps struct {
	Store     *config.Store
	Auth      middleware.Validator
	Completer handler.Completer
	Vault     handler.CredentialVault
	ACL       handler.Authorizer
	Detector  Detector
	Tracker   handler.RequestMetrics
	Metrics   *observability.Metrics
	// MCP is mounted at /mcp for operators when set.
	MCP     http.Handler
	Version string
	Logger  *slog.Logger
}

// Server is the top-level HTTP server for the gateway. It owns the Chi
// router and the components behind it.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe or Run to start accepting
// connections.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
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
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.IPRequestsPerMinute > 0 {
		r.Use(middleware.RateLimit(s.cfg.IPRequestsPerMinute))
	}
	r.Use(middleware.MaxBody(s.cfg.MaxBodySize))

	// --- Health checks and API description (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	docs := handler.NewOpenAPIHandler(s.cfg.BaseURL, s.deps.Version)
	r.Get("/openapi.json", docs.ServeJSON)
	r.Get("/openapi.yaml", docs.ServeYAML)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	authn := middleware.Authenticate(s.deps.Auth, s.authFailed)

	if s.deps.MCP != nil {
		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Use(middleware.RequireOperator())
			r.Handle("/mcp", s.deps.MCP)
		})
	}

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authn)

		completions := handler.NewCompletionHandler(s.deps.Completer)
		boards := handler.NewBoardHandler(s.deps.Store, s.deps.ACL, s.deps.Detector)
		creds := handler.NewCredentialHandler(s.deps.Vault)
		ops := handler.NewOperatorHandler(s.deps.Tracker, s.deps.Detector, s.deps.Store, s.logger)

		r.Route("/boards", func(r chi.Router) {
			r.Post("/", boards.CreateBoard)
			r.Route("/{boardID}", func(r chi.Router) {
				r.Get("/", boards.GetBoard)
				r.Post("/nodes", boards.CreateNode)
				r.Post("/nodes/{nodeID}/completion", completions.Complete)
				r.Post("/nodes/{nodeID}/completion/stream", completions.Stream)
				r.Put("/default-credential", boards.SetDefaultCredential)
				r.Post("/shares", boards.Share)
				r.Delete("/shares/{shareID}", boards.Unshare)
				r.Post("/exports", boards.Export)
			})
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Post("/", creds.Add)
			r.Get("/", creds.List)
			r.Delete("/{credentialID}", creds.Revoke)
			r.Post("/{credentialID}/verify", creds.Verify)
		})

		r.Route("/operator", func(r chi.Router) {
			r.Get("/metrics", ops.ListMetrics)
			r.Get("/activity", ops.GetActivity)
			r.Post("/activity/reset", ops.ResetActivity)
			r.Get("/thresholds", ops.GetThresholds)
			r.Get("/usage", ops.GetUsage)
			r.Get("/audit", ops.ListAudit)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireOperator())
				r.Put("/thresholds", ops.SetThresholds)
				r.Post("/metrics/purge", ops.PurgeMetrics)
			})
		})
	})

	s.router = r
}

// authFailed counts a rejected token against the client address.
func (s *Server) authFailed(r *http.Request) {
	if s.deps.Detector == nil {
		return
	}
	s.deps.Detector.Track(r.Context(), "ip:"+clientHost(r.RemoteAddr), model.ActivityAuthFailure)
}

func clientHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.deps.Store == nil {
		checks["store"] = "missing"
		status = "degraded"
	} else if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "check", "store", "error", err)
		checks["store"] = "unavailable"
		status = "degraded"
	}

	if status != "ok" {
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
// requests.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is done, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: completion streams stay open for minutes.
		IdleTimeout: 120 * time.Second,
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
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
