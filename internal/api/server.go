// Package api provides the HTTP REST API and WebSocket server for Brolly
// Core.
//
// It exposes the rental lease protocol (session issuance, BLE
// authorization, return), authentication, fleet status, and a real-time
// slot-status stream to rider apps, station locks, and the ops dashboard.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brollyhq/brolly-core/internal/audit"
	"github.com/brollyhq/brolly-core/internal/auth"
	"github.com/brollyhq/brolly-core/internal/infrastructure/config"
	"github.com/brollyhq/brolly-core/internal/infrastructure/database"
	"github.com/brollyhq/brolly-core/internal/infrastructure/logging"
	"github.com/brollyhq/brolly-core/internal/rental"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Manager  *rental.Manager
	Slots    rental.SlotRepository
	Users    auth.UserRepository
	Audit    audit.Repository
	DB       *database.DB // optional: enables db status in /api/health
	Version  string
}

// Server is the HTTP API server for Brolly Core.
//
// It manages the HTTP listener, routes, middleware, WebSocket hub, and
// the ticket store used to authenticate WebSocket upgrades.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	manager *rental.Manager
	slots   rental.SlotRepository
	users   auth.UserRepository
	audit   audit.Repository
	db      *database.DB
	version string

	server    *http.Server
	hub       *Hub
	wsTickets *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("rental manager is required")
	}
	if deps.Slots == nil {
		return nil, fmt.Errorf("slot repository is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		manager:   deps.Manager,
		slots:     deps.Slots,
		users:     deps.Users,
		audit:     deps.Audit,
		db:        deps.DB,
		version:   deps.Version,
		wsTickets: newTicketStore(),
	}, nil
}

// Hub returns the WebSocket hub. Nil until Start() is called. Used to
// register the hub as a lease event listener.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, builds the router, and
// launches the HTTP listener in a background goroutine. The server is
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server. It waits up to 10 seconds
// for in-flight requests, then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
