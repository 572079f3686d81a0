package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"
)

// State is the lifecycle state of a supervised server process.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Stream names one of the two captured output streams.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

const (
	defaultName            = "vrpn_server"
	defaultExitProbe       = 50 * time.Millisecond
	defaultGracefulTimeout = 10 * time.Second

	// drainTimeout bounds how long monitors keep reading after the process
	// exits on its own.
	drainTimeout = 2 * time.Second
)

// DefaultCommand returns the base command used when Config.Command is empty.
// The config file path is appended to it.
func DefaultCommand() []string {
	return []string{"vrpn_server", "-f"}
}

// Readiness configures the startup gate on stdout.
type Readiness struct {
	// Pattern is a regular expression searched for in each stdout line.
	Pattern string

	// Timeout bounds the wait for Pattern. Zero waits indefinitely.
	Timeout time.Duration
}

// Config holds configuration for a supervised server process.
type Config struct {
	// Name labels the process in logs. Defaults to "vrpn_server".
	Name string

	// Command is the executable and its leading arguments. The generated
	// config file path and then ExtraArgs are appended to it.
	Command []string

	// ConfigLines are written verbatim after the banner of the generated
	// config file. Each entry should carry its own line terminator.
	ConfigLines []string

	// ExtraArgs are appended after the config file path.
	ExtraArgs []string

	// Readiness enables the stdout startup gate when non-nil.
	Readiness *Readiness

	// SettleDelay is waited after the gate before the liveness check.
	SettleDelay time.Duration

	// ExitProbe is how long the liveness check waits for the process to be
	// reaped before declaring it alive.
	ExitProbe time.Duration

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// TempDir is where the config file is written. Empty uses os.TempDir().
	TempDir string

	// OnLine is called with every output line, newline trimmed.
	OnLine func(stream Stream, line string)

	// OnStateChange is called after every state transition.
	OnStateChange func(stats Stats)

	// OnExit is called once the process has been reaped. expected is false
	// when the process exited on its own while running.
	OnExit func(code int, expected bool)

	// OnStartFailed is called when Start fails after the state left Idle.
	OnStartFailed func(err error)
}

// Logger defines the logging interface for the supervisor.
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

// Server supervises one external server process.
//
// Start and the stop operations must not be called concurrently with each
// other; callers serialise them. Accessors are safe from any goroutine.
type Server struct {
	cfg     Config
	pattern *regexp.Regexp
	logger  Logger

	mu          sync.RWMutex
	state       State
	proc        *processHandle
	monitors    map[Stream]*monitorTask
	monitorErrs map[Stream]error
	startedAt   time.Time
	exitCode    int
	exited      bool
	runs        int
	lastError   error
}

// NewServer validates cfg, applies defaults and returns an idle server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = defaultName
	}
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand()
	}
	if cfg.ExitProbe == 0 {
		cfg.ExitProbe = defaultExitProbe
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	cfg.Command = append([]string(nil), cfg.Command...)
	cfg.ConfigLines = append([]string(nil), cfg.ConfigLines...)
	cfg.ExtraArgs = append([]string(nil), cfg.ExtraArgs...)

	var problems []string
	if cfg.Command[0] == "" {
		problems = append(problems, "command executable is empty")
	}
	if cfg.SettleDelay < 0 {
		problems = append(problems, "settle delay must not be negative")
	}
	if cfg.ExitProbe < 0 {
		problems = append(problems, "exit probe must not be negative")
	}
	if cfg.GracefulTimeout < 0 {
		problems = append(problems, "graceful timeout must not be negative")
	}

	s := &Server{
		logger:      noopLogger{},
		state:       StateIdle,
		monitors:    make(map[Stream]*monitorTask),
		monitorErrs: make(map[Stream]error),
	}

	if cfg.Readiness != nil {
		readiness := *cfg.Readiness
		cfg.Readiness = &readiness
		if readiness.Timeout < 0 {
			problems = append(problems, "readiness timeout must not be negative")
		}
		re, err := regexp.Compile(readiness.Pattern)
		if err != nil {
			problems = append(problems, fmt.Sprintf("readiness pattern: %v", err))
		}
		s.pattern = re
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	s.cfg = cfg
	return s, nil
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// Name returns the configured log label.
func (s *Server) Name() string {
	return s.cfg.Name
}

// Start launches the server process and returns once it is running.
//
// The sequence is: write the config file, spawn the process, monitor
// stderr, wait for the readiness pattern on stdout (if configured), monitor
// stdout, wait the settle delay, then check the process is still alive. If
// any step fails the process is killed, the monitors are stopped and the
// pipes closed before the error is returned.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		pid := s.proc.pid()
		s.mu.Unlock()
		return fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, s.cfg.Name, pid)
	case StateStarting, StateStopping:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, s.cfg.Name, state)
	}
	s.state = StateStarting
	s.proc = nil
	s.startedAt = time.Time{}
	s.exited = false
	s.lastError = nil
	s.monitorErrs = make(map[Stream]error)
	s.mu.Unlock()
	s.notifyState()

	if err := s.start(ctx); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.lastError = err
		s.mu.Unlock()
		s.logger.Error("server startup failed", "name", s.cfg.Name, "error", err)
		if s.cfg.OnStartFailed != nil {
			s.cfg.OnStartFailed(err)
		}
		s.notifyState()
		return err
	}

	s.notifyState()
	return nil
}

func (s *Server) start(ctx context.Context) error {
	dir := s.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path, err := writeConfigFile(dir, s.cfg.ConfigLines)
	if err != nil {
		return err
	}
	defer s.removeConfigFile(path)

	if err := s.logConfigFile(path); err != nil {
		return err
	}

	h, err := s.spawn(path)
	if err != nil {
		return err
	}

	if err := s.initialise(ctx, h); err != nil {
		s.logger.Warn("killing server after failed startup",
			"name", s.cfg.Name,
			"pid", h.pid(),
			"error", err,
		)
		s.teardown(context.Background(), h, s.takeMonitors(), syscall.SIGKILL)
		return err
	}
	return nil
}

// spawn launches the process in its own process group with stdout and
// stderr connected to pipes owned by the supervisor.
func (s *Server) spawn(configPath string) (*processHandle, error) {
	args := make([]string, 0, len(s.cfg.Command)+len(s.cfg.ExtraArgs))
	args = append(args, s.cfg.Command[1:]...)
	args = append(args, configPath)
	args = append(args, s.cfg.ExtraArgs...)

	s.logger.Info("starting server process",
		"name", s.cfg.Name,
		"binary", s.cfg.Command[0],
		"args", args,
	)

	cmd := exec.Command(s.cfg.Command[0], args...) //nolint:gosec // command comes from operator configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("starting %s: %w", s.cfg.Name, startErr)
	}

	h := &processHandle{
		cmd:       cmd,
		stdout:    stdoutR,
		stderr:    stderrR,
		stdoutSrc: NewPipeSource(stdoutR),
		stderrSrc: NewPipeSource(stderrR),
		exited:    make(chan struct{}),
	}

	s.mu.Lock()
	s.proc = h
	s.mu.Unlock()

	go s.wait(h)

	s.logger.Info("server process started", "name", s.cfg.Name, "pid", h.pid())
	return h, nil
}

// initialise runs the startup steps that follow a successful spawn.
func (s *Server) initialise(ctx context.Context, h *processHandle) error {
	monitorCtx := context.WithoutCancel(ctx)

	s.setMonitor(s.startMonitor(monitorCtx, Stderr, h.stderrSrc, LogLines(s.lineLogger(Stderr))))

	if s.pattern != nil {
		if err := s.awaitReadiness(ctx, h); err != nil {
			return err
		}
	}

	s.setMonitor(s.startMonitor(monitorCtx, Stdout, h.stdoutSrc, LogLines(s.lineLogger(Stdout))))

	if s.cfg.SettleDelay > 0 {
		timer := time.NewTimer(s.cfg.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if code, ok := h.waitExit(s.cfg.ExitProbe); ok {
		return &PrematureExitError{ExitCode: code}
	}

	// wait closes h.exited before it takes s.mu, so a process that dies
	// after the probe is either seen here or handled by wait as an
	// unexpected exit once the state is Running.
	s.mu.Lock()
	if !h.alive() {
		s.mu.Unlock()
		return &PrematureExitError{ExitCode: h.exitCode}
	}
	s.startedAt = time.Now()
	s.state = StateRunning
	s.runs++
	s.mu.Unlock()

	s.logger.Info("server initialisation completed", "name", s.cfg.Name, "pid", h.pid())
	return nil
}

// awaitReadiness monitors stdout until the readiness pattern matches, the
// stream ends, or the timeout expires.
func (s *Server) awaitReadiness(ctx context.Context, h *processHandle) error {
	readiness := s.cfg.Readiness
	s.logger.Info("waiting for server readiness",
		"name", s.cfg.Name,
		"pattern", readiness.Pattern,
		"timeout", readiness.Timeout,
	)

	gateCtx, cancel := ctx, context.CancelFunc(func() {})
	if readiness.Timeout > 0 {
		gateCtx, cancel = context.WithTimeout(ctx, readiness.Timeout)
	}
	defer cancel()

	var matched bool
	watch := WatchPattern(s.pattern, s.lineLogger(Stdout))
	gate := s.startMonitor(gateCtx, Stdout, h.stdoutSrc, func(line string) (Verdict, error) {
		verdict, err := watch(line)
		if verdict == Stop {
			matched = true
		}
		return verdict, err
	})
	s.setMonitor(gate)
	<-gate.done

	switch err := gate.err; {
	case err == nil && matched:
		s.logger.Info("server readiness pattern seen", "name", s.cfg.Name)
		return nil
	case err == nil:
		s.logger.Warn("server stdout closed before readiness pattern was seen", "name", s.cfg.Name)
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%w: %q within %s", ErrReadinessTimeout, readiness.Pattern, readiness.Timeout)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("watching for readiness: %w", err)
	}
}

// lineLogger returns the log function used for one stream. stderr lines
// are logged at error level, stdout lines at info level.
func (s *Server) lineLogger(stream Stream) func(string) {
	return func(line string) {
		line = strings.TrimRight(line, "\r\n")
		if stream == Stderr {
			s.logger.Error("server output", "name", s.cfg.Name, "stream", string(stream), "line", line)
		} else {
			s.logger.Info("server output", "name", s.cfg.Name, "stream", string(stream), "line", line)
		}
		if s.cfg.OnLine != nil {
			s.cfg.OnLine(stream, line)
		}
	}
}

// Stop terminates the server gracefully: SIGTERM to the process group,
// then SIGKILL if it is still alive after the graceful timeout. It returns
// the exit code, which is the negated signal number when the process was
// killed by a signal.
func (s *Server) Stop(ctx context.Context) (int, error) {
	return s.stop(ctx, false)
}

// Kill terminates the server immediately with SIGKILL.
func (s *Server) Kill(ctx context.Context) (int, error) {
	return s.stop(ctx, true)
}

// Abort logs cause, including its type and the current call stack, and
// then kills the server.
func (s *Server) Abort(ctx context.Context, cause error) (int, error) {
	if cause != nil {
		s.logger.Error("stopping server after error",
			"name", s.cfg.Name,
			"error_type", fmt.Sprintf("%T", cause),
			"error", cause.Error(),
			"stack", string(debug.Stack()),
		)
	}
	return s.stop(ctx, true)
}

func (s *Server) stop(ctx context.Context, kill bool) (int, error) {
	s.mu.Lock()
	h := s.proc
	if s.state != StateRunning || h == nil || !h.alive() {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrNotRunning, s.cfg.Name)
	}
	s.state = StateStopping
	tasks := s.takeMonitorsLocked()
	s.mu.Unlock()
	s.notifyState()

	sig := syscall.SIGTERM
	if kill {
		sig = syscall.SIGKILL
	}
	code, err := s.teardown(ctx, h, tasks, sig)

	s.mu.Lock()
	s.state = StateStopped
	s.startedAt = time.Time{}
	if err != nil {
		s.lastError = err
	}
	s.mu.Unlock()

	s.logger.Info("server stopped", "name", s.cfg.Name, "exit_code", code)
	if s.cfg.OnExit != nil {
		s.cfg.OnExit(code, true)
	}
	s.notifyState()
	return code, err
}

// teardown cancels the monitors, signals the process group, waits for the
// process to be reaped, then waits for the monitors and closes the pipes.
// A graceful signal escalates to SIGKILL after GracefulTimeout or when ctx
// ends.
func (s *Server) teardown(ctx context.Context, h *processHandle, tasks []*monitorTask, sig syscall.Signal) (int, error) {
	for _, t := range tasks {
		t.cancel()
	}

	var err error
	if h.alive() {
		s.signal(h, sig)
		if sig != syscall.SIGKILL {
			timer := time.NewTimer(s.cfg.GracefulTimeout)
			select {
			case <-h.exited:
			case <-timer.C:
				s.logger.Warn("server did not exit gracefully, sending SIGKILL", "name", s.cfg.Name, "pid", h.pid())
				s.signal(h, syscall.SIGKILL)
			case <-ctx.Done():
				err = ctx.Err()
				s.signal(h, syscall.SIGKILL)
			}
			timer.Stop()
		}
	}
	<-h.exited

	for _, t := range tasks {
		<-t.done
	}
	h.close()
	return h.exitCode, err
}

// signal delivers sig to the process group, falling back to the process
// itself when the group cannot be signalled.
func (s *Server) signal(h *processHandle, sig syscall.Signal) {
	if !h.alive() {
		return
	}
	pid := h.pid()
	err := syscall.Kill(-pid, sig)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		err = h.cmd.Process.Signal(sig)
	}
	if err != nil && !errors.Is(err, syscall.ESRCH) && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("failed to signal server process", "name", s.cfg.Name, "pid", pid, "signal", sig.String(), "error", err)
		return
	}
	s.logger.Debug("signal sent to server process", "name", s.cfg.Name, "pid", pid, "signal", sig.String())
}

// wait reaps the process and handles an exit nobody asked for.
func (s *Server) wait(h *processHandle) {
	err := h.cmd.Wait()
	h.exitCode = exitCodeOf(h.cmd.ProcessState, err)
	close(h.exited)

	s.mu.Lock()
	s.exitCode = h.exitCode
	s.exited = true
	if s.proc != h || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.startedAt = time.Time{}
	tasks := s.takeMonitorsLocked()
	s.mu.Unlock()

	s.logger.Error("server process exited unexpectedly",
		"name", s.cfg.Name,
		"pid", h.pid(),
		"exit_code", h.exitCode,
	)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-drainCtx.Done():
			t.cancel()
			<-t.done
		}
	}
	cancel()
	h.close()

	if s.cfg.OnExit != nil {
		s.cfg.OnExit(h.exitCode, false)
	}
	s.notifyState()
}

func exitCodeOf(state *os.ProcessState, waitErr error) int {
	if state == nil {
		if waitErr != nil {
			return -1
		}
		return 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// startMonitor runs Monitor on a goroutine. Errors other than cancellation
// are logged and kept for MonitorErr.
func (s *Server) startMonitor(ctx context.Context, stream Stream, src LineSource, handle LineHandler) *monitorTask {
	ctx, cancel := context.WithCancel(ctx)
	t := &monitorTask{
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		t.err = Monitor(ctx, src, handle)
		if t.err == nil || errors.Is(t.err, context.Canceled) || errors.Is(t.err, context.DeadlineExceeded) {
			return
		}
		s.logger.Error("server output monitor failed", "name", s.cfg.Name, "stream", string(stream), "error", t.err)
		s.mu.Lock()
		s.monitorErrs[stream] = t.err
		s.mu.Unlock()
	}()
	return t
}

func (s *Server) setMonitor(t *monitorTask) {
	s.mu.Lock()
	s.monitors[t.stream] = t
	s.mu.Unlock()
}

func (s *Server) takeMonitors() []*monitorTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeMonitorsLocked()
}

func (s *Server) takeMonitorsLocked() []*monitorTask {
	tasks := make([]*monitorTask, 0, len(s.monitors))
	for stream, t := range s.monitors {
		tasks = append(tasks, t)
		delete(s.monitors, stream)
	}
	return tasks
}

func (s *Server) notifyState() {
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(s.Stats())
	}
}

// IsRunning reports whether the server is running and its process alive.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateRunning && s.proc != nil && s.proc.alive()
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// PID returns the process ID of the current or most recent process, or 0.
func (s *Server) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proc.pid()
}

// StartedAt returns when initialisation completed. ok is false unless the
// server is running.
func (s *Server) StartedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt, !s.startedAt.IsZero()
}

// Elapsed returns the time since initialisation completed. ok is false
// unless the server is running.
func (s *Server) Elapsed() (time.Duration, bool) {
	startedAt, ok := s.StartedAt()
	if !ok {
		return 0, false
	}
	return time.Since(startedAt), true
}

// ExitCode returns the exit code of the most recent process once it has
// been reaped.
func (s *Server) ExitCode() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitCode, s.exited
}

// MonitorErr returns the error that ended a stream monitor abnormally during
// the current or most recent run, or nil.
func (s *Server) MonitorErr(stream Stream) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monitorErrs[stream]
}

// Stats is a snapshot of the supervisor for status reporting.
type Stats struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	ExitCode  *int          `json:"exit_code,omitempty"`
	Runs      int           `json:"runs"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the server.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Name:  s.cfg.Name,
		State: s.state,
		PID:   s.proc.pid(),
		Runs:  s.runs,
	}
	if !s.startedAt.IsZero() {
		startedAt := s.startedAt
		stats.StartedAt = &startedAt
		stats.Uptime = time.Since(startedAt)
	}
	if s.exited {
		code := s.exitCode
		stats.ExitCode = &code
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}

// processHandle is one spawned process and the supervisor's end of its pipes.
type processHandle struct {
	cmd       *exec.Cmd
	stdout    *os.File
	stderr    *os.File
	stdoutSrc *PipeSource
	stderrSrc *PipeSource

	// exited is closed once the process has been reaped; exitCode is valid
	// from then on.
	exited   chan struct{}
	exitCode int

	closeOnce sync.Once
}

func (h *processHandle) pid() int {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *processHandle) alive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// waitExit waits up to d for the process to be reaped.
func (h *processHandle) waitExit(d time.Duration) (int, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.exited:
		return h.exitCode, true
	case <-timer.C:
		return 0, false
	}
}

// close releases the pumps and the read ends of both pipes.
func (h *processHandle) close() {
	h.closeOnce.Do(func() {
		h.stdoutSrc.Close()
		h.stderrSrc.Close()
		h.stdout.Close()
		h.stderr.Close()
	})
}

// monitorTask is one running Monitor goroutine.
type monitorTask struct {
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid once done is closed
}
