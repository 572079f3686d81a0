package mqtt

import "fmt"

// Topic prefixes. Everything the supervisor publishes lives below
// TopicPrefix so a single ACL entry covers it.
const (
	// TopicPrefix is the root of all vrpn-core topics.
	TopicPrefix = "vrpncore"

	// TopicPrefixServer is the base for per-server topics.
	TopicPrefixServer = TopicPrefix + "/server"

	// TopicPrefixSystem is the base for supervisor-wide topics.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for vrpn-core MQTT topics.
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.ServerStatus("tracker")
//	// Returns: "vrpncore/server/tracker/status"
type Topics struct{}

// ServerStatus returns the retained lifecycle status topic of a server.
//
// Example: vrpncore/server/tracker/status
func (Topics) ServerStatus(name string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixServer, name)
}

// ServerOutput returns the topic carrying one output stream of a server.
//
// Example: vrpncore/server/tracker/output/stderr
func (Topics) ServerOutput(name, stream string) string {
	return fmt.Sprintf("%s/%s/output/%s", TopicPrefixServer, name, stream)
}

// ServerCommand returns the topic on which a server accepts control
// commands (start, stop, restart).
//
// Example: vrpncore/server/tracker/command
func (Topics) ServerCommand(name string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixServer, name)
}

// SystemStatus returns the supervisor online/offline topic.
//
// Example: vrpncore/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllServerStatus returns a pattern matching the status of every server.
//
// Pattern: vrpncore/server/+/status
func (Topics) AllServerStatus() string {
	return TopicPrefixServer + "/+/status"
}

// AllTopics returns a pattern matching all vrpn-core topics.
//
// Pattern: vrpncore/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
