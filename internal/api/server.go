package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/vrpn-core/internal/infrastructure/config"
	"github.com/nerrad567/vrpn-core/internal/infrastructure/logging"
	"github.com/nerrad567/vrpn-core/internal/journal"
	"github.com/nerrad567/vrpn-core/internal/vrpn"
)

// drainTimeout bounds how long Close waits for in-flight requests. A
// lifecycle action in progress keeps running; its caller just stops
// waiting for the reply.
const drainTimeout = 10 * time.Second

// defaultActionTimeout bounds a lifecycle action when Deps.ActionTimeout
// is zero.
const defaultActionTimeout = 2 * time.Minute

// Supervisor is the part of vrpn.Manager the API drives.
type Supervisor interface {
	Stats() vrpn.Stats
	Start(ctx context.Context) error
	Stop(ctx context.Context) (int, error)
	Restart(ctx context.Context) error
}

// HealthChecker is implemented by infrastructure clients (database, MQTT,
// InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Supervisor Supervisor
	Runs       journal.Repository       // optional; /runs answers 503 without it
	Health     map[string]HealthChecker // optional components reported by /health
	Hub        *Hub                     // if set, used instead of creating one
	Version    string

	// ActionTimeout bounds start, stop and restart requests. It should
	// cover readiness, settle and graceful stop with some margin.
	ActionTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	supervisor Supervisor
	runs       journal.Repository
	health     map[string]HealthChecker
	version    string
	startTime  time.Time

	actionTimeout time.Duration

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New checks deps and builds an unstarted server.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		supervisor: deps.Supervisor,
		runs:       deps.Runs,
		health:     deps.Health,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        deps.Hub,

		actionTimeout: deps.ActionTimeout,
	}
	if s.actionTimeout <= 0 {
		s.actionTimeout = defaultActionTimeout
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, for wiring it as a telemetry sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves HTTP in a background goroutine.
// Binding happens before Start returns, so a port conflict is reported to
// the caller.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close disconnects log viewers and drains in-flight requests for up to
// drainTimeout. The supervised server is not touched.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("draining API server: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has bound the listener.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
