package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/vrpn-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/vrpn-core/internal/journal"
	"github.com/nerrad567/vrpn-core/internal/process"
)

// journalTimeout bounds each journal write. Callbacks carry no context of
// their own.
const journalTimeout = 5 * time.Second

// RunJournal records server runs.
type RunJournal interface {
	Create(ctx context.Context, run *journal.Run) error
	Finish(ctx context.Context, id string, c journal.Completion) error
}

// Publisher publishes MQTT messages.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
}

// MetricWriter records lifecycle metrics.
type MetricWriter interface {
	WriteStartup(server string, pid int, startup time.Duration)
	WriteExit(server string, exitCode int, expected bool, uptime time.Duration)
	WriteStartFailure(server string, reason string)
	WriteOutputLines(server string, stdout, stderr int64)
}

// LiveSink receives every output line and state change as it happens,
// for example a WebSocket hub.
type LiveSink interface {
	BroadcastLine(stream process.Stream, line string)
	BroadcastState(stats process.Stats)
}

// Logger defines the logging interface for the reporter.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config configures a Reporter. Every sink is optional.
type Config struct {
	// ServerName labels journal rows, topics and metrics.
	ServerName string

	// Command is recorded in the journal for each run.
	Command string

	Journal   RunJournal
	Publisher Publisher
	Metrics   MetricWriter
	Live      LiveSink

	// PublishOutput also publishes each output line over MQTT (QoS 0).
	PublishOutput bool
}

// Reporter turns supervisor callbacks into journal rows, retained MQTT
// status, metrics and live output. Its methods match the process.Config
// callback signatures.
type Reporter struct {
	cfg    Config
	logger Logger
	now    func() time.Time

	stdoutLines atomic.Int64
	stderrLines atomic.Int64

	mu           sync.Mutex
	startingAt   time.Time
	runID        string
	runStartedAt time.Time
	unexpected   bool
}

// New creates a Reporter.
func New(cfg Config) *Reporter {
	return &Reporter{cfg: cfg, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger used for sink failures.
func (r *Reporter) SetLogger(logger Logger) {
	r.logger = logger
}

// Bind installs the reporter's callbacks on a server config, chaining any
// callbacks already set.
func (r *Reporter) Bind(cfg *process.Config) {
	onLine, onState, onExit, onFailed := cfg.OnLine, cfg.OnStateChange, cfg.OnExit, cfg.OnStartFailed

	cfg.OnLine = func(stream process.Stream, line string) {
		r.OutputLine(stream, line)
		if onLine != nil {
			onLine(stream, line)
		}
	}
	cfg.OnStateChange = func(stats process.Stats) {
		r.StateChanged(stats)
		if onState != nil {
			onState(stats)
		}
	}
	cfg.OnExit = func(code int, expected bool) {
		r.ProcessExited(code, expected)
		if onExit != nil {
			onExit(code, expected)
		}
	}
	cfg.OnStartFailed = func(err error) {
		r.StartFailed(err)
		if onFailed != nil {
			onFailed(err)
		}
	}
}

// OutputLine counts a line and forwards it to the live sinks.
func (r *Reporter) OutputLine(stream process.Stream, line string) {
	if stream == process.Stderr {
		r.stderrLines.Add(1)
	} else {
		r.stdoutLines.Add(1)
	}

	if r.cfg.Live != nil {
		r.cfg.Live.BroadcastLine(stream, line)
	}
	if r.cfg.PublishOutput && r.cfg.Publisher != nil {
		topic := mqtt.Topics{}.ServerOutput(r.cfg.ServerName, string(stream))
		if err := r.cfg.Publisher.Publish(topic, []byte(line), 0, false); err != nil {
			r.logger.Debug("output publish failed", "topic", topic, "error", err)
		}
	}
}

// LineCounts returns the lines seen on stdout and stderr since the current
// start began.
func (r *Reporter) LineCounts() (stdout, stderr int64) {
	return r.stdoutLines.Load(), r.stderrLines.Load()
}

// StateChanged publishes the retained status and opens or closes the
// journal run on Running and Stopped.
func (r *Reporter) StateChanged(stats process.Stats) {
	r.publishStatus(stats)
	if r.cfg.Live != nil {
		r.cfg.Live.BroadcastState(stats)
	}

	switch stats.State {
	case process.StateStarting:
		r.stdoutLines.Store(0)
		r.stderrLines.Store(0)
		r.mu.Lock()
		r.startingAt = r.now()
		r.unexpected = false
		r.mu.Unlock()

	case process.StateRunning:
		r.runStarted(stats)

	case process.StateStopped:
		r.runStopped(stats)
	}
}

// ProcessExited remembers whether the exit was requested. It is called
// before the Stopped state change.
func (r *Reporter) ProcessExited(_ int, expected bool) {
	r.mu.Lock()
	r.unexpected = !expected
	r.mu.Unlock()
}

// StartFailed records a start that never reached Running.
func (r *Reporter) StartFailed(err error) {
	now := r.now()
	r.mu.Lock()
	startedAt := r.startingAt
	r.mu.Unlock()
	if startedAt.IsZero() {
		startedAt = now
	}

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.WriteStartFailure(r.cfg.ServerName, FailureReason(err))
	}
	if r.cfg.Journal == nil {
		return
	}

	stdout, stderr := r.LineCounts()
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	run := &journal.Run{
		ServerName:  r.cfg.ServerName,
		Command:     r.cfg.Command,
		Outcome:     journal.OutcomeFailed,
		StartedAt:   startedAt,
		StoppedAt:   &now,
		Error:       err.Error(),
		StdoutLines: stdout,
		StderrLines: stderr,
	}
	if jerr := r.cfg.Journal.Create(ctx, run); jerr != nil {
		r.logger.Warn("journal write failed", "error", jerr)
	}
}

func (r *Reporter) runStarted(stats process.Stats) {
	now := r.now()
	r.mu.Lock()
	startingAt := r.startingAt
	r.runStartedAt = now
	r.runID = ""
	r.mu.Unlock()

	if r.cfg.Metrics != nil && !startingAt.IsZero() {
		r.cfg.Metrics.WriteStartup(r.cfg.ServerName, stats.PID, now.Sub(startingAt))
	}
	if r.cfg.Journal == nil {
		return
	}

	startedAt := now
	if stats.StartedAt != nil {
		startedAt = *stats.StartedAt
	}
	run := &journal.Run{
		ServerName: r.cfg.ServerName,
		PID:        stats.PID,
		Command:    r.cfg.Command,
		Outcome:    journal.OutcomeRunning,
		StartedAt:  startedAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := r.cfg.Journal.Create(ctx, run); err != nil {
		r.logger.Warn("journal write failed", "error", err)
		return
	}

	r.mu.Lock()
	r.runID = run.ID
	r.mu.Unlock()
}

func (r *Reporter) runStopped(stats process.Stats) {
	now := r.now()
	r.mu.Lock()
	runID, startedAt, unexpected := r.runID, r.runStartedAt, r.unexpected
	r.runID = ""
	r.runStartedAt = time.Time{}
	r.mu.Unlock()

	// A failed start also ends in Stopped; StartFailed already recorded it.
	if startedAt.IsZero() {
		return
	}

	code := 0
	if stats.ExitCode != nil {
		code = *stats.ExitCode
	}
	stdout, stderr := r.LineCounts()

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.WriteExit(r.cfg.ServerName, code, !unexpected, now.Sub(startedAt))
		r.cfg.Metrics.WriteOutputLines(r.cfg.ServerName, stdout, stderr)
	}
	if r.cfg.Journal == nil || runID == "" {
		return
	}

	outcome := journal.OutcomeStopped
	if unexpected {
		outcome = journal.OutcomeCrashed
	}
	completion := journal.Completion{
		Outcome:     outcome,
		StoppedAt:   now,
		ExitCode:    stats.ExitCode,
		Error:       stats.LastError,
		StdoutLines: stdout,
		StderrLines: stderr,
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := r.cfg.Journal.Finish(ctx, runID, completion); err != nil {
		r.logger.Warn("journal write failed", "run_id", runID, "error", err)
	}
}

func (r *Reporter) publishStatus(stats process.Stats) {
	if r.cfg.Publisher == nil {
		return
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		r.logger.Warn("status marshal failed", "error", err)
		return
	}
	topic := mqtt.Topics{}.ServerStatus(r.cfg.ServerName)
	if err := r.cfg.Publisher.PublishRetained(topic, payload); err != nil {
		r.logger.Debug("status publish failed", "topic", topic, "error", err)
	}
}

// FailureReason maps a start error to a short metric tag.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, process.ErrReadinessTimeout):
		return "readiness_timeout"
	case errors.Is(err, process.ErrPrematureExit):
		return "premature_exit"
	case errors.Is(err, process.ErrDecode):
		return "decode_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "start_error"
	}
}
