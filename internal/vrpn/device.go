package vrpn

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Device type aliases accepted in configuration. Any other type is passed
// to the server unchanged.
const (
	TypeTestTracker  = "test_tracker"
	TypeTestButton   = "test_button"
	TypeTestDial     = "test_dial"
	TypeLibertyLatus = "liberty_latus"
)

// libertyBaudRate is written as the second LibertyHS argument. The server
// ignores it but requires a value.
const libertyBaudRate = "115200"

type deviceKind struct {
	serverType string
	backslash  bool
	// sensorCountArg is true when the first argument is the number of
	// sensors, buttons or dials.
	sensorCountArg bool
	expandArgs     func(args []string) []string
}

var knownDevices = map[string]deviceKind{
	TypeTestTracker: {serverType: "vrpn_Tracker_NULL", sensorCountArg: true},
	TypeTestButton:  {serverType: "vrpn_Button_Example", sensorCountArg: true},
	TypeTestDial:    {serverType: "vrpn_Dial_Example", sensorCountArg: true},
	TypeLibertyLatus: {
		serverType:     "vrpn_Tracker_LibertyHS",
		backslash:      true,
		sensorCountArg: true,
		expandArgs: func(args []string) []string {
			if len(args) == 0 {
				return args
			}
			return append([]string{args[0], libertyBaudRate}, args[1:]...)
		},
	},
}

// deviceNamePattern restricts names to what the server accepts in a
// "name@host" address.
var deviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// DeviceConfig is one device entry in the server configuration file.
type DeviceConfig struct {
	// Type is the server device type (e.g. vrpn_Tracker_NULL) or one of the
	// aliases above.
	Type string

	// Name identifies the device to clients. Empty gets a random name.
	Name string

	// Args follow the name on the device line.
	Args []string

	// AdditionalLines are written after the device line, for example
	// commands sent to the hardware at startup.
	AdditionalLines []string

	// ContinueWithBackslash joins the additional lines to the device line
	// with a backslash continuation.
	ContinueWithBackslash bool
}

// Resolve expands a type alias and assigns a random name when none is set.
// Resolving an already resolved config is a no-op.
func (d DeviceConfig) Resolve() DeviceConfig {
	out := d
	out.Args = append([]string(nil), d.Args...)
	out.AdditionalLines = append([]string(nil), d.AdditionalLines...)

	if kind, ok := knownDevices[d.Type]; ok {
		out.Type = kind.serverType
		out.ContinueWithBackslash = out.ContinueWithBackslash || kind.backslash
		if kind.expandArgs != nil {
			out.Args = kind.expandArgs(out.Args)
		}
	}
	if out.Name == "" {
		out.Name = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return out
}

// Validate checks the device entry for errors.
func (d DeviceConfig) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("device type is required")
	}
	if strings.ContainsAny(d.Type, " \t\n") {
		return fmt.Errorf("device type %q contains whitespace", d.Type)
	}
	if d.Name != "" && !deviceNamePattern.MatchString(d.Name) {
		return fmt.Errorf("device name %q contains invalid characters (allowed: alphanumeric, underscore, dot, hyphen)", d.Name)
	}
	for i, arg := range d.Args {
		if arg == "" || strings.ContainsAny(arg, "\t\n") {
			return fmt.Errorf("device %s argument %d is empty or contains a tab or newline", d.Type, i+1)
		}
	}
	for i, line := range d.AdditionalLines {
		if strings.Contains(line, "\n") {
			return fmt.Errorf("device %s additional line %d contains a newline", d.Type, i+1)
		}
	}

	if kind, ok := knownDevices[d.Type]; ok && kind.sensorCountArg {
		if len(d.Args) == 0 {
			return fmt.Errorf("device %s requires a sensor count as its first argument", d.Type)
		}
		if n, err := strconv.Atoi(d.Args[0]); err != nil || n < 1 {
			return fmt.Errorf("device %s sensor count %q must be a positive integer", d.Type, d.Args[0])
		}
	}
	return nil
}

// ConfigText renders the configuration file entry: the tab-separated
// device line, then any additional lines, newline terminated.
func (d DeviceConfig) ConfigText() string {
	first := make([]string, 0, len(d.Args)+2)
	first = append(first, d.Type, d.Name)
	first = append(first, d.Args...)

	lines := make([]string, 0, len(d.AdditionalLines)+1)
	lines = append(lines, strings.Join(first, "\t"))
	lines = append(lines, d.AdditionalLines...)

	joiner := "\n"
	if d.ContinueWithBackslash {
		joiner = "\\\n"
	}
	return strings.Join(lines, joiner) + "\n"
}

// Address returns the address clients use to reach the device.
func (d DeviceConfig) Address(host string) string {
	return d.Name + "@" + host
}

// Sensors returns the number of sensors, buttons or dials for device types
// whose first argument is that count, and 0 otherwise.
func (d DeviceConfig) Sensors() int {
	for _, kind := range knownDevices {
		if kind.serverType == d.Type && kind.sensorCountArg && len(d.Args) > 0 {
			n, err := strconv.Atoi(d.Args[0])
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}
