package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
	"github.com/optiondesk/paperbot/internal/server/handler"
	"github.com/optiondesk/paperbot/internal/server/middleware"
	"github.com/optiondesk/paperbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimitPerMin int    // if zero or no limiter, rate limiting is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Snapshot  *handler.SnapshotHandler
	Positions *handler.PositionHandler
	Payoff    *handler.PayoffHandler
	Account   *handler.AccountHandler
	Feed      *handler.FeedHandler
	Archive   *handler.ArchiveHandler
	Strategy  *handler.StrategyHandler
	Audit     *handler.AuditHandler

	// Metrics serves the Prometheus scrape endpoint; nil disables it.
	Metrics http.Handler
	// ObserveHTTP records a finished request for the metrics counters.
	ObserveHTTP func(method string, status int)
}

// Server is the headless HTTP + WebSocket API for the paper trading desk.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, metrics, auth, rate limit) and
// attaches the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (exempt from auth by the middleware).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/snapshot", handlers.Snapshot.GetSnapshot)

	// Position endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("POST /api/positions", handlers.Positions.OpenPosition)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.ClosePosition)
	mux.HandleFunc("POST /api/positions/close-all", handlers.Positions.CloseAllPositions)

	mux.HandleFunc("GET /api/payoff", handlers.Payoff.GetPayoff)
	mux.HandleFunc("GET /api/account", handlers.Account.GetAccount)
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	// Feed control.
	mux.HandleFunc("POST /api/feed/start", handlers.Feed.StartFeed)
	mux.HandleFunc("POST /api/feed/stop", handlers.Feed.StopFeed)

	// Day export.
	mux.HandleFunc("POST /api/archive/{date}", handlers.Archive.ArchiveDay)

	// Strategy templates.
	mux.HandleFunc("GET /api/strategies", handlers.Strategy.ListStrategies)
	mux.HandleFunc("POST /api/strategies/preview", handlers.Strategy.PreviewStrategy)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Prometheus scrape endpoint (no auth, like health).
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute)(h)
	}

	// Auth middleware skips if APIKey is empty.
	h = middleware.Auth(cfg.APIKey)(h)

	if handlers.ObserveHTTP != nil {
		h = middleware.Metrics(handlers.ObserveHTTP)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
