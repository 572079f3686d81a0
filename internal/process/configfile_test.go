package process

import (
	"os"
	"strings"
	"testing"
)

func TestWriteConfigFile(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{"no lines", nil},
		{"one device", []string{"vrpn_Tracker_NULL\tTracker0\t2\t60.0\n"}},
		{"continued lines", []string{
			"vrpn_Tracker_LibertyHS\tTracker0\t115200\t1\\\n",
			"\tcontinued\n",
			"vrpn_Button_Example\tButton0\t2\n",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path, err := writeConfigFile(dir, tt.lines)
			if err != nil {
				t.Fatalf("writeConfigFile() error = %v", err)
			}
			if !strings.HasPrefix(path, dir) {
				t.Errorf("path = %q, want it under %q", path, dir)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			want := strings.Join(configBanner, "") + strings.Join(tt.lines, "")
			if string(data) != want {
				t.Errorf("file content = %q, want %q", data, want)
			}
		})
	}
}

func TestWriteConfigFile_BadDir(t *testing.T) {
	if _, err := writeConfigFile("/nonexistent/vrpn-core-test", nil); err == nil {
		t.Error("writeConfigFile() error = nil, want error")
	}
}

func TestFormatConfigLine(t *testing.T) {
	tests := []struct {
		n    int
		line string
		want string
	}{
		{1, "# VRPN server configuration file.\n", "/tmp/a.cfg:01:# VRPN server configuration file."},
		{5, "vrpn_Tracker_NULL\tT0\n", "/tmp/a.cfg:05:vrpn_Tracker_NULL\tT0"},
		{12, "last", "/tmp/a.cfg:12:last"},
	}

	for _, tt := range tests {
		if got := formatConfigLine("/tmp/a.cfg", tt.n, tt.line); got != tt.want {
			t.Errorf("formatConfigLine(%d, %q) = %q, want %q", tt.n, tt.line, got, tt.want)
		}
	}
}
