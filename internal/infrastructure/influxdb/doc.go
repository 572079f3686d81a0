// Package influxdb records vrpn-core server lifecycle metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//	server_lifecycle  tags: server, event   fields: pid, duration_ms, exit_code, expected, uptime_s, reason
//	server_output     tags: server          fields: stdout_lines, stderr_lines
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteStartup("tracker", pid, time.Since(begin))
//
// Write errors are delivered asynchronously through SetOnError.
package influxdb
