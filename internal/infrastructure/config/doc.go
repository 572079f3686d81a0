// Package config loads the vrpn-core YAML configuration.
//
// Load starts from built-in defaults, overlays the file and then any
// VRPNCORE_* environment variables, and validates the result, reporting
// every problem in one error. Secrets such as the MQTT password and the
// InfluxDB token are best supplied through the environment:
//
//	VRPNCORE_MQTT_PASSWORD=... VRPNCORE_INFLUXDB_TOKEN=... vrpncore -c /etc/vrpncore/config.yaml
//
// Path resolves the file location from VRPNCORE_CONFIG, falling back to
// DefaultPath.
package config
