package vrpn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/vrpn-core/internal/process"
)

const (
	defaultHost            = "localhost"
	defaultServiceInterval = 10 * time.Millisecond
)

// Connector is implemented by collaborators that attach to the server once
// it is running, typically a client opening each device address.
type Connector interface {
	Connect(ctx context.Context, host string) error
}

// Servicer is implemented by collaborators that need to be polled
// regularly while the server runs.
type Servicer interface {
	Service()
}

// Logger defines the logging interface for the VRPN manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures a Manager.
type Config struct {
	// Server configures the supervised process. ConfigLines is ignored;
	// the configuration file is generated from Devices.
	Server process.Config

	// Devices are written to the server configuration file in order.
	Devices []DeviceConfig

	// Host is passed to collaborators when connecting. Defaults to localhost.
	Host string

	// ServiceInterval is how often Servicer collaborators are polled.
	ServiceInterval time.Duration
}

// Manager runs a VRPN server for a set of devices and drives the
// collaborators that talk to it.
//
// Manager serialises Start, Stop and Restart, so it is safe to call them
// from several goroutines (for example a signal handler and an API).
type Manager struct {
	config        Config
	devices       []DeviceConfig
	collaborators []any
	server        *process.Server
	logger        Logger

	// mu serialises lifecycle operations.
	mu sync.Mutex

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewManager validates the devices, resolves their names and builds the
// supervised server. Collaborators may implement Connector, Servicer or
// both; other values are rejected.
func NewManager(cfg Config, collaborators ...any) (*Manager, error) {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.ServiceInterval <= 0 {
		cfg.ServiceInterval = defaultServiceInterval
	}

	var errs []error
	devices := make([]DeviceConfig, 0, len(cfg.Devices))
	lines := make([]string, 0, len(cfg.Devices))
	for i, d := range cfg.Devices {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("device %d: %w", i+1, err))
			continue
		}
		d = d.Resolve()
		devices = append(devices, d)
		lines = append(lines, d.ConfigText())
	}
	for i, c := range collaborators {
		_, isConnector := c.(Connector)
		_, isServicer := c.(Servicer)
		if !isConnector && !isServicer {
			errs = append(errs, fmt.Errorf("collaborator %d (%T) implements neither Connector nor Servicer", i+1, c))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid vrpn config: %w", err)
	}

	m := &Manager{
		config:        cfg,
		devices:       devices,
		collaborators: collaborators,
		logger:        noopLogger{},
	}

	serverCfg := cfg.Server
	serverCfg.ConfigLines = lines
	onExit := serverCfg.OnExit
	serverCfg.OnExit = func(code int, expected bool) {
		if !expected {
			m.stopServiceLoop()
		}
		if onExit != nil {
			onExit(code, expected)
		}
	}

	server, err := process.NewServer(serverCfg)
	if err != nil {
		return nil, err
	}
	m.server = server
	return m, nil
}

// SetLogger sets the logger for the manager and its server.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
	m.server.SetLogger(logger)
}

// Server returns the supervised server.
func (m *Manager) Server() *process.Server {
	return m.server
}

// Devices returns the resolved device entries.
func (m *Manager) Devices() []DeviceConfig {
	return append([]DeviceConfig(nil), m.devices...)
}

// Start starts the server, connects collaborators and begins polling
// servicers. If a collaborator fails to connect the server is aborted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start(ctx)
}

func (m *Manager) start(ctx context.Context) error {
	if err := m.server.Start(ctx); err != nil {
		return fmt.Errorf("starting vrpn server: %w", err)
	}

	for _, c := range m.collaborators {
		conn, ok := c.(Connector)
		if !ok {
			continue
		}
		if err := conn.Connect(ctx, m.config.Host); err != nil {
			err = fmt.Errorf("connecting %T to %s: %w", c, m.config.Host, err)
			if _, abortErr := m.server.Abort(ctx, err); abortErr != nil {
				m.logger.Warn("abort after failed connect", "error", abortErr)
			}
			return err
		}
		m.logger.Info("collaborator connected", "collaborator", fmt.Sprintf("%T", c), "host", m.config.Host)
	}

	m.startServiceLoop()
	return nil
}

// Stop stops the server gracefully and then the service loop.
func (m *Manager) Stop(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop(ctx)
}

func (m *Manager) stop(ctx context.Context) (int, error) {
	code, err := m.server.Stop(ctx)
	m.stopServiceLoop()
	return code, err
}

// Restart stops the server if it is running and starts it again.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server.IsRunning() {
		if _, err := m.stop(ctx); err != nil {
			return fmt.Errorf("stopping vrpn server: %w", err)
		}
	}
	return m.start(ctx)
}

// IsRunning reports whether the server is running.
func (m *Manager) IsRunning() bool {
	return m.server.IsRunning()
}

func (m *Manager) startServiceLoop() {
	var servicers []Servicer
	for _, c := range m.collaborators {
		if s, ok := c.(Servicer); ok {
			servicers = append(servicers, s)
		}
	}
	if len(servicers) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.loopMu.Lock()
	m.loopCancel = cancel
	m.loopDone = done
	m.loopMu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.config.ServiceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range servicers {
					s.Service()
				}
			}
		}
	}()
}

func (m *Manager) stopServiceLoop() {
	m.loopMu.Lock()
	cancel, done := m.loopCancel, m.loopDone
	m.loopCancel, m.loopDone = nil, nil
	m.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// DeviceSummary describes one configured device for status reporting.
type DeviceSummary struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Sensors int    `json:"sensors,omitempty"`
}

// Stats holds runtime statistics for the manager.
type Stats struct {
	process.Stats
	Host    string          `json:"host"`
	Devices []DeviceSummary `json:"devices"`
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	stats := Stats{
		Stats:   m.server.Stats(),
		Host:    m.config.Host,
		Devices: make([]DeviceSummary, 0, len(m.devices)),
	}
	for _, d := range m.devices {
		stats.Devices = append(stats.Devices, DeviceSummary{
			Type:    d.Type,
			Name:    d.Name,
			Address: d.Address(m.config.Host),
			Sensors: d.Sensors(),
		})
	}
	return stats
}
