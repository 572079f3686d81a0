// Package vrpn runs a VRPN server for a set of configured devices.
//
// Device entries from the YAML configuration are rendered into
// the server's configuration file, the server is supervised through the
// process package, and optional collaborators are connected and polled
// while it runs:
//
//   - Device type aliases (test_tracker, liberty_latus, ...) for common hardware
//   - Random device names when none are configured
//   - Connector collaborators attached after the server is up
//   - Servicer collaborators polled on a fixed interval
//
// Example configuration (in config.yaml):
//
//	server:
//	  binary: "/usr/bin/vrpn_server"
//	  sentinel: "Begin main loop"
//	  devices:
//	    - type: "test_tracker"
//	      name: "Tracker0"
//	      args: ["2", "60.0"]
//
// The package knows nothing about the VRPN wire protocol; collaborators
// bring their own clients.
package vrpn
