package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nerrad567/vrpn-core/internal/infrastructure/config"
)

const serviceName = "vrpncore"

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is the supervisor's structured logger. A *Logger satisfies the
// Logger interfaces of the process, vrpn, telemetry, mqtt and api
// packages, so one value is handed to all of them.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section, writing to stdout unless
// output is "stderr".
//
// Parameters:
//   - cfg: Logging section of config.yaml (level, format, output)
//   - version: Added to every entry as the "version" field
//
// Returns:
//   - *Logger: Ready to use; unknown levels fall back to info
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
//
// Parameters:
//   - cfg: Logging section; format "text" selects the text handler, anything else JSON
//   - version: Added to every entry as the "version" field
//   - w: Destination for encoded entries
//
// Returns:
//   - *Logger: Ready to use
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: humanDurations,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{slog.New(handler).With("service", serviceName, "version", version)}
}

// parseLevel maps a level name onto slog, falling back to info.
func parseLevel(level string) slog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// humanDurations renders durations such as readiness timeouts and run
// uptimes as "1.5s" rather than integer nanoseconds in JSON output.
func humanDurations(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		return slog.String(a.Key, a.Value.Duration().Round(time.Millisecond).String())
	}
	return a
}

// With returns a child Logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// Component tags entries with the subsystem that wrote them, e.g.
// "process", "mqtt" or "api".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the logger used before the configuration file is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}
