package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/vrpn-core/internal/infrastructure/logging"
)

type fakeController struct {
	mu      sync.Mutex
	calls   []string
	failing bool
	called  chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{called: make(chan struct{}, 16)}
}

func (f *fakeController) record(action string) error {
	f.mu.Lock()
	f.calls = append(f.calls, action)
	f.mu.Unlock()
	f.called <- struct{}{}
	if f.failing {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeController) Start(context.Context) error { return f.record("start") }

func (f *fakeController) Stop(context.Context) (int, error) { return 0, f.record("stop") }

func (f *fakeController) Restart(context.Context) error { return f.record("restart") }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"bare action", "start", "start", false},
		{"bare with whitespace", "  Restart\n", "restart", false},
		{"json action", `{"action":"stop"}`, "stop", false},
		{"json upper case", `{"action":"RESTART"}`, "restart", false},
		{"unknown action", "reload", "", true},
		{"empty", "", "", true},
		{"bad json", `{"action":`, "", true},
		{"json without action", `{"verb":"start"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCommand() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandRunner_ExecutesInOrder(t *testing.T) {
	ctl := newFakeController()
	runner := newCommandRunner(ctl, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	for _, payload := range []string{"start", `{"action":"restart"}`, "stop"} {
		if err := runner.Handle("vrpncore/server/tracker/command", []byte(payload)); err != nil {
			t.Fatalf("Handle(%q) error = %v", payload, err)
		}
	}
	for range 3 {
		select {
		case <-ctl.called:
		case <-time.After(2 * time.Second):
			t.Fatal("command not executed")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	want := []string{"start", "restart", "stop"}
	if len(ctl.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", ctl.calls, want)
	}
	for i := range want {
		if ctl.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, ctl.calls[i], want[i])
		}
	}
}

func TestCommandRunner_RejectsBadCommand(t *testing.T) {
	runner := newCommandRunner(newFakeController(), logging.Default())
	if err := runner.Handle("t", []byte("explode")); err == nil {
		t.Error("Handle() error = nil, want error")
	}
}

func TestCommandRunner_QueueFull(t *testing.T) {
	runner := newCommandRunner(newFakeController(), logging.Default())
	for i := range commandQueueSize {
		if err := runner.Handle("t", []byte("start")); err != nil {
			t.Fatalf("Handle() #%d error = %v", i, err)
		}
	}
	if err := runner.Handle("t", []byte("start")); err == nil {
		t.Error("Handle() on full queue error = nil, want error")
	}
}

func TestCommandRunner_FailureDoesNotStopRunner(t *testing.T) {
	ctl := newFakeController()
	ctl.failing = true
	runner := newCommandRunner(ctl, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx) //nolint:errcheck // returns nil on cancel

	for range 2 {
		if err := runner.Handle("t", []byte("start")); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		select {
		case <-ctl.called:
		case <-time.After(2 * time.Second):
			t.Fatal("command not executed after a failure")
		}
	}
}
