package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/hdf-devmgr/internal/devmgr"
	"github.com/nerrad567/hdf-devmgr/internal/event"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/config"
	"github.com/nerrad567/hdf-devmgr/internal/infrastructure/logging"
	"github.com/nerrad567/hdf-devmgr/internal/journal"
	"github.com/nerrad567/hdf-devmgr/internal/power"
	"github.com/nerrad567/hdf-devmgr/internal/process"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Manager is the device manager surface the API reads and drives.
// *devmgr.Service satisfies it.
type Manager interface {
	Hosts() []devmgr.HostSnapshot
	Host(hostID uint16) (devmgr.HostSnapshot, error)
	LoadDevice(ctx context.Context, serviceName string) error
	UnloadDevice(ctx context.Context, serviceName string) error
	LoadLeftDriver(ctx context.Context) error
	PowerStateChange(ctx context.Context, state power.State) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Manager Manager

	// Journal is optional; without it /journal answers 503.
	Journal journal.Repository

	// Hub is optional; when nil the server creates its own. Passing one in
	// lets the caller register it as an event sink before the server starts.
	Hub *Hub

	// Metrics is served at /metrics when set.
	Metrics http.Handler

	// Recent backs /events; without it /events answers 503.
	Recent *event.Recorder

	// Supervisor reports host process state for /supervisor. Only the
	// process installer has one; without it /supervisor answers 503.
	Supervisor func() map[uint16]process.Stats

	Version string
}

// Server is the diagnostics HTTP server.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	mgr     Manager
	journal journal.Repository
	hub     *Hub
	metrics http.Handler
	recent  *event.Recorder
	stats   func() map[uint16]process.Stats
	version string
	started time.Time

	server *http.Server
	cancel context.CancelFunc
}

// New creates a new API server. The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("device manager is required")
	}

	s := &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		mgr:     deps.Manager,
		journal: deps.Journal,
		hub:     deps.Hub,
		metrics: deps.Metrics,
		recent:  deps.Recent,
		stats:   deps.Supervisor,
		version: deps.Version,
		started: time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, which is also an event sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start launches the HTTP listener in a background goroutine. The hub runs
// until Close or until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
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

// HealthCheck reports whether the server has been started.
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
