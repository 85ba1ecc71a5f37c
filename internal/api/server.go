package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/mbn-address/internal/infrastructure/config"
	"github.com/nerrad567/mbn-address/internal/infrastructure/logging"
	"github.com/nerrad567/mbn-address/internal/node"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// NodeQuerier runs registry queries. *engine.Engine satisfies it.
type NodeQuerier interface {
	Query(ctx context.Context, q node.Query) ([]node.Node, error)
}

// HealthChecker is a component that can report its health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionStatus reports whether a client is connected.
type ConnectionStatus interface {
	IsConnected() bool
}

// DropCounter reports inbound bus events discarded on overflow.
type DropCounter interface {
	Dropped() uint64
}

// SessionCounter reports connected admin sessions.
type SessionCounter interface {
	ActiveSessions() int
}

// DBStatser exposes connection pool statistics.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Nodes    NodeQuerier
	Hub      *Hub                     // If nil, the server creates its own
	Checks   map[string]HealthChecker // Components reported by /health
	MQTT     ConnectionStatus         // Optional
	Bus      DropCounter              // Optional
	Sessions SessionCounter           // Optional
	DB       DBStatser                // Optional
	Version  string
}

// Server is the HTTP status API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	nodes     NodeQuerier
	checks    map[string]HealthChecker
	mqtt      ConnectionStatus
	bus       DropCounter
	sessions  SessionCounter
	db        DBStatser
	version   string
	startTime time.Time

	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, node querier)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Nodes == nil {
		return nil, fmt.Errorf("node querier is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		nodes:     deps.Nodes,
		checks:    deps.Checks,
		mqtt:      deps.MQTT,
		bus:       deps.Bus,
		sessions:  deps.Sessions,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}

	// The engine needs the hub as a notifier before the server starts,
	// so main usually creates it and passes it in.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves HTTP in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
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
