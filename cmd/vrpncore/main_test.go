package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/vrpn-core/internal/infrastructure/config"
	"github.com/nerrad567/vrpn-core/internal/infrastructure/database"
	"github.com/nerrad567/vrpn-core/internal/infrastructure/logging"
	"github.com/nerrad567/vrpn-core/internal/journal"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("run() error = nil, want error for missing config")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_ServerFailsToStart verifies a server that never becomes ready is
// fatal at startup.
func TestRun_ServerFailsToStart(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, `
site:
  id: test-site
server:
  name: broken
  binary: /bin/sh
  args: ["-c", "exit 3", "broken"]
  exit_probe: 1s
  temp_dir: "`+dir+`"
journal:
  enabled: false
mqtt:
  enabled: false
api:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, path)
	if err == nil {
		t.Fatal("run() error = nil, want start failure")
	}
	if n := strings.Count(err.Error(), "starting vrpn server"); n != 1 {
		t.Errorf("run() error = %v, want one starting vrpn server prefix, got %d", err, n)
	}
}

// TestRun_StartAndShutdown runs a fake server until the context is
// cancelled and checks the journal recorded a clean stop.
func TestRun_StartAndShutdown(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	path := writeTestConfig(t, `
site:
  id: test-site
server:
  name: tracker
  binary: /bin/sh
  args: ["-c", "echo 'Begin main loop'; exec sleep 60", "tracker"]
  sentinel: "Begin main loop"
  readiness_timeout: 5s
  graceful_timeout: 2s
  temp_dir: "`+dir+`"
  devices:
    - type: test_tracker
      name: Tracker0
      args: ["1", "60.0"]
journal:
  enabled: true
  path: "`+dbPath+`"
mqtt:
  enabled: false
api:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	// Wait for the journal to show a running server, then shut down.
	deadline := time.Now().Add(5 * time.Second)
	for !journalHas(t, dbPath, journal.OutcomeRunning) {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server never reached running")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if !journalHas(t, dbPath, journal.OutcomeStopped) {
		t.Error("journal has no stopped run after shutdown")
	}
}

func journalHas(t *testing.T, path string, outcome journal.Outcome) bool {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		return false
	}
	db, err := database.Open(database.Config{Path: path, BusyTimeout: 1})
	if err != nil {
		return false
	}
	defer db.Close()

	result, err := journal.NewSQLiteRepository(db.DB).List(context.Background(), journal.Filter{Outcome: outcome})
	if err != nil {
		return false
	}
	return result.Total > 0
}

func TestParseFlags(t *testing.T) {
	t.Setenv("VRPNCORE_CONFIG", "/etc/vrpncore/env.yaml")

	tests := []struct {
		name        string
		args        []string
		wantPath    string
		wantVersion bool
		wantErr     bool
	}{
		{"defaults to env", nil, "/etc/vrpncore/env.yaml", false, false},
		{"long flag", []string{"--config", "/tmp/a.yaml"}, "/tmp/a.yaml", false, false},
		{"short flag", []string{"-c", "/tmp/b.yaml"}, "/tmp/b.yaml", false, false},
		{"version", []string{"--version"}, "/etc/vrpncore/env.yaml", true, false},
		{"unknown flag", []string{"--verbose"}, "", false, true},
		{"stray argument", []string{"serve"}, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if opts.configPath != tt.wantPath {
				t.Errorf("configPath = %q, want %q", opts.configPath, tt.wantPath)
			}
			if opts.showVersion != tt.wantVersion {
				t.Errorf("showVersion = %v, want %v", opts.showVersion, tt.wantVersion)
			}
		})
	}
}

func TestServerConfig(t *testing.T) {
	log := logging.Default()

	tests := []struct {
		name          string
		cfg           config.ServerConfig
		wantReadiness bool
		wantCommand   string
	}{
		{
			name:        "no sentinel",
			cfg:         config.ServerConfig{Name: "s", Binary: "vrpn_server", Args: []string{"-f"}},
			wantCommand: "vrpn_server -f",
		},
		{
			name:          "sentinel enables readiness",
			cfg:           config.ServerConfig{Name: "s", Binary: "/opt/vrpn_server", Args: []string{"-f"}, Sentinel: "ready", ReadinessTimeout: time.Second},
			wantReadiness: true,
			wantCommand:   "/opt/vrpn_server -f",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serverConfig(tt.cfg, log)
			if (got.Readiness != nil) != tt.wantReadiness {
				t.Errorf("Readiness = %+v, wantReadiness %v", got.Readiness, tt.wantReadiness)
			}
			if tt.wantReadiness && (got.Readiness.Pattern != tt.cfg.Sentinel || got.Readiness.Timeout != tt.cfg.ReadinessTimeout) {
				t.Errorf("Readiness = %+v", got.Readiness)
			}
			if cmd := strings.Join(got.Command, " "); cmd != tt.wantCommand {
				t.Errorf("Command = %q, want %q", cmd, tt.wantCommand)
			}
			if got.OnLine == nil {
				t.Error("OnLine not set")
			}
		})
	}
}

func TestActionTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ServerConfig
		want time.Duration
	}{
		{
			name: "all phases",
			cfg: config.ServerConfig{
				Sentinel:         "ready",
				ReadinessTimeout: 10 * time.Second,
				SettleDelay:      time.Second,
				ExitProbe:        50 * time.Millisecond,
				GracefulTimeout:  10 * time.Second,
			},
			want: 21*time.Second + 50*time.Millisecond + shutdownMargin,
		},
		{
			name: "no readiness gate",
			cfg:  config.ServerConfig{GracefulTimeout: 2 * time.Second},
			want: 2*time.Second + shutdownMargin,
		},
		{
			name: "unbounded readiness",
			cfg:  config.ServerConfig{Sentinel: "ready", GracefulTimeout: 2 * time.Second},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := actionTimeout(tt.cfg); got != tt.want {
				t.Errorf("actionTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDevices(t *testing.T) {
	got := devices([]config.DeviceConfig{
		{Type: "liberty_latus", Args: []string{"4"}, AdditionalLines: []string{"F1"}},
		{Type: "vrpn_Mouse", Name: "Mouse0", ContinueWithBackslash: true},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Type != "liberty_latus" || got[0].AdditionalLines[0] != "F1" {
		t.Errorf("devices[0] = %+v", got[0])
	}
	if got[1].Name != "Mouse0" || !got[1].ContinueWithBackslash {
		t.Errorf("devices[1] = %+v", got[1])
	}
}
