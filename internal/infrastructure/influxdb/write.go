package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	// MeasurementLifecycle records start, exit and start failure events.
	MeasurementLifecycle = "server_lifecycle"

	// MeasurementOutput records cumulative output line counts per run.
	MeasurementOutput = "server_output"
)

// Lifecycle event tag values.
const (
	EventStarted     = "started"
	EventExited      = "exited"
	EventStartFailed = "start_failed"
)

// WriteStartup records a successful start and how long it took to become
// ready.
//
//	client.WriteStartup("tracker", 4321, 850*time.Millisecond)
func (c *Client) WriteStartup(server string, pid int, startup time.Duration) {
	c.record(MeasurementLifecycle,
		map[string]string{"server": server, "event": EventStarted},
		map[string]any{
			"pid":         pid,
			"duration_ms": startup.Milliseconds(),
		},
	)
}

// WriteExit records the end of a run. Expected is false when the server
// died on its own.
func (c *Client) WriteExit(server string, exitCode int, expected bool, uptime time.Duration) {
	c.record(MeasurementLifecycle,
		map[string]string{"server": server, "event": EventExited},
		map[string]any{
			"exit_code": exitCode,
			"expected":  expected,
			"uptime_s":  uptime.Seconds(),
		},
	)
}

// WriteStartFailure records a start that never reached the running state.
// Reason should be a low-cardinality error class, not the full message.
func (c *Client) WriteStartFailure(server string, reason string) {
	c.record(MeasurementLifecycle,
		map[string]string{"server": server, "event": EventStartFailed},
		map[string]any{
			"reason": reason,
		},
	)
}

// WriteOutputLines records the number of lines read from each stream
// during the current run.
func (c *Client) WriteOutputLines(server string, stdout, stderr int64) {
	c.record(MeasurementOutput,
		map[string]string{"server": server},
		map[string]any{
			"stdout_lines": stdout,
			"stderr_lines": stderr,
		},
	)
}

func (c *Client) record(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
