// Package logging builds the log/slog logger shared by every vrpn-core
// component.
//
// Entries carry service and version fields. Components add their own
// name through Logger.Component. The logging section selects level, json
// or text format and stdout or stderr:
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "stdout"
//
// Server output lines are logged by the process package as "server
// output" with stream and line attributes, stderr at error level.
package logging
