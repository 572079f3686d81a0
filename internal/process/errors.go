package process

import (
	"errors"
	"fmt"
)

// Sentinel errors for supervisor operations.
var (
	// ErrAlreadyRunning is returned by Start when a server process is already
	// running (or is in the middle of starting or stopping).
	ErrAlreadyRunning = errors.New("server already running")

	// ErrNotRunning is returned by Stop, Kill and Abort when no server process
	// is running.
	ErrNotRunning = errors.New("server not running")

	// ErrReadinessTimeout is returned by Start when the readiness pattern was
	// not seen on stdout within the configured timeout.
	ErrReadinessTimeout = errors.New("readiness pattern not seen before timeout")

	// ErrPrematureExit is returned by Start when the process exited before
	// initialisation completed. Use errors.As with *PrematureExitError to get
	// the exit code.
	ErrPrematureExit = errors.New("server process exited during startup")

	// ErrDecode is returned when an output line is not valid UTF-8.
	ErrDecode = errors.New("output line is not valid UTF-8")

	// ErrInvalidConfig is returned by NewServer for unusable configuration.
	ErrInvalidConfig = errors.New("invalid server configuration")
)

// PrematureExitError reports a process that died while Start was still
// initialising it.
type PrematureExitError struct {
	ExitCode int
}

func (e *PrematureExitError) Error() string {
	return fmt.Sprintf("%s (exit code %d)", ErrPrematureExit.Error(), e.ExitCode)
}

// Is reports whether target is ErrPrematureExit.
func (e *PrematureExitError) Is(target error) bool {
	return target == ErrPrematureExit
}

// DecodeError carries the raw bytes of a line that failed UTF-8 decoding.
type DecodeError struct {
	Line []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %q", ErrDecode.Error(), e.Line)
}

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
