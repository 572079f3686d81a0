// Package process supervises an external VRPN server process.
//
// A Server writes a generated configuration file, launches the server with
// that file as an argument, and forwards the server's stdout and stderr to
// the logger line by line. Startup can be gated on a readiness pattern
// appearing on stdout, followed by a settle delay and a liveness check. If
// any part of startup fails the process is killed and fully reaped before
// Start returns.
//
// Features:
//   - Readiness gate on stdout with optional timeout
//   - Graceful stop (SIGTERM, then SIGKILL) of the whole process group
//   - Line-oriented output monitoring with cancellable waits
//   - Detection of unexpected exits while running
//   - Scoped sessions that stop the server when the work is done
//
// Example usage:
//
//	srv, err := process.NewServer(process.Config{
//	    Name:        "tracker",
//	    Command:     []string{"/usr/bin/vrpn_server", "-f"},
//	    ConfigLines: []string{"vrpn_Tracker_NULL\tTracker0\t2\t60.0\n"},
//	    Readiness:   &process.Readiness{Pattern: "Begin main loop", Timeout: 5 * time.Second},
//	})
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Stop(context.Background())
package process
