package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/config"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/logging"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/metrics"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/registry"
	"github.com/nerrad567/lab-orchestrator-core/internal/scheduler"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Subscriber is the part of the MQTT client the WebSocket relay needs.
type Subscriber interface {
	Subscribe(filter string, qos byte, handler mqtt.MessageHandler) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Metrics    config.MetricsConfig
	Logger     *logging.Logger
	Registry   *registry.Registry
	Scheduler  *scheduler.Scheduler
	Dispatcher *dispatcher.Dispatcher
	MQTT       Subscriber       // optional: WebSocket relay is disabled without it
	Collectors *metrics.Metrics // optional: /metrics is not mounted without it
	Version    string
}

// Server is the HTTP API server for the lab host.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	metricsCfg config.MetricsConfig
	logger     *logging.Logger
	registry   *registry.Registry
	scheduler  *scheduler.Scheduler
	dispatcher *dispatcher.Dispatcher
	mqtt       Subscriber
	collectors *metrics.Metrics
	version    string
	startTime  time.Time
	server     *http.Server
	listener   net.Listener
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		registry:   deps.Registry,
		scheduler:  deps.Scheduler,
		dispatcher: deps.Dispatcher,
		mqtt:       deps.MQTT,
		collectors: deps.Collectors,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.Logger, deps.Collectors),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to the registry and ack topics for
// the WebSocket relay, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	if err := s.subscribeRelay(); err != nil {
		s.logger.Warn("failed to subscribe WebSocket relay", "error", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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

// HealthCheck verifies the API server is running and responsive.
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
