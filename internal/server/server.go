// Package server exposes the troubleshooting engine over HTTP and WebSocket.
//
// Responsibilities:
//   - Route turn requests to the orchestrator (POST /api/v1/turn)
//   - Serve session history and step listings for review UIs
//   - Allow technicians to abandon a stuck session
//   - Expose the learned-solution leaderboard (GET /api/v1/effectiveness)
//   - Liveness/readiness probes and Prometheus metrics
//
// The server owns no domain logic. Everything it does is decode, dispatch,
// encode; orchestration and persistence decisions stay behind the injected
// interfaces so handlers can be tested against fakes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/servicepilot/servicepilot-ai/internal/audit"
	"github.com/servicepilot/servicepilot-ai/internal/config"
	"github.com/servicepilot/servicepilot-ai/internal/db"
	"github.com/servicepilot/servicepilot-ai/internal/middleware"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot"
	"github.com/servicepilot/servicepilot-ai/internal/troubleshoot/effectiveness"
	"github.com/servicepilot/servicepilot-ai/pkg/types"
)

// TurnHandler processes one technician turn. Implemented by the
// orchestrator; faked in handler tests.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req *types.TurnRequest) (*types.TurnResponse, error)
}

// Ranker serves the effectiveness leaderboard.
type Ranker interface {
	RankSolutions(ctx context.Context, category troubleshoot.ProblemCategory, machineModel string, limit int) ([]effectiveness.RankedSolution, error)
}

// Server is the HTTP/WebSocket front of the AI service.
type Server struct {
	cfg    *config.Config
	store  db.Store
	turns  TurnHandler
	ranker Ranker
	audit  audit.Logger
	logger *zap.Logger

	limiter    *middleware.TurnLimiter
	httpServer *http.Server
}

// Options carries the server dependencies.
type Options struct {
	Config *config.Config
	Store  db.Store
	Turns  TurnHandler
	Ranker Ranker
	Audit  audit.Logger
	Logger *zap.Logger
}

// New wires a server. Config, Store and Turns are required; Audit and
// Logger default to no-ops.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server: config is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Turns == nil {
		return nil, fmt.Errorf("server: turn handler is required")
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		cfg:     opts.Config,
		store:   opts.Store,
		turns:   opts.Turns,
		ranker:  opts.Ranker,
		audit:   opts.Audit,
		logger:  opts.Logger,
		limiter: middleware.NewTurnLimiter(opts.Config.Server.TurnRateLimitPerMin),
	}, nil
}

// Handler builds the full middleware-wrapped route tree. Exposed so tests
// can drive the server through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz/live", s.handleLive).Methods(http.MethodGet)
	router.HandleFunc("/healthz/ready", s.handleReady).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Handle("/turn", s.limiter.Wrap(http.HandlerFunc(s.handleTurn))).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/steps", s.handleGetSteps).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/abandon", s.handleAbandonSession).Methods(http.MethodPost)
	api.HandleFunc("/effectiveness", s.handleEffectiveness).Methods(http.MethodGet)

	router.Handle("/ws/turns", s.limiter.Wrap(http.HandlerFunc(s.handleTurnSocket))).Methods(http.MethodGet)

	router.Use(s.loggingMiddleware)
	router.Use(s.recoveryMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

// Start binds the listener and serves until Stop is called. Blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("server listening",
		zap.Int("port", s.cfg.Server.Port),
		zap.Bool("tls", s.cfg.Server.TLSEnabled))

	var err error
	if s.cfg.Server.TLSEnabled {
		err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.limiter.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
