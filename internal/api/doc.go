// Package api implements the HTTP status API and live output WebSocket for
// vrpn-core.
//
// This package provides:
//   - REST endpoints to inspect, start, stop and restart the VRPN server
//   - read access to the run journal
//   - a WebSocket hub streaming captured output lines and state changes
//   - a middleware stack (request ID, logging, recovery, CORS)
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/server
//	POST /api/v1/server/start
//	POST /api/v1/server/stop
//	POST /api/v1/server/restart
//	GET  /api/v1/server/logs        (WebSocket)
//	GET  /api/v1/runs
//	GET  /api/v1/runs/{id}
//
// # WebSocket events
//
// Output lines arrive on "server.output.stdout" and "server.output.stderr",
// state changes on "server.state". Clients may subscribe and unsubscribe
// with {"type":"subscribe","payload":{"channels":[...]}}.
//
// # Graceful Degradation
//
// The journal is optional. Without it /runs answers 503 and every other
// endpoint keeps working.
package api
