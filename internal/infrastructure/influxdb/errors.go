package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when the influxdb section is off.
	// Callers run without metrics rather than failing.
	ErrDisabled = errors.New("influxdb: disabled")

	ErrConnectionFailed = errors.New("influxdb: connect failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)
