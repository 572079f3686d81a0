package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/vrpn-core/internal/infrastructure/logging"
)

// Actions accepted on the command topic.
const (
	actionStart   = "start"
	actionStop    = "stop"
	actionRestart = "restart"
)

// commandQueueSize bounds commands waiting behind a slow start.
const commandQueueSize = 8

// controller is the part of vrpn.Manager driven by remote commands.
type controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (int, error)
	Restart(ctx context.Context) error
}

type commandMessage struct {
	Action string `json:"action"`
}

// parseCommand accepts either a bare action ("restart") or a JSON object
// ({"action": "restart"}).
func parseCommand(payload []byte) (string, error) {
	text := strings.TrimSpace(string(payload))
	action := text
	if strings.HasPrefix(text, "{") {
		var msg commandMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return "", fmt.Errorf("parsing command: %w", err)
		}
		action = msg.Action
	}

	action = strings.ToLower(strings.TrimSpace(action))
	switch action {
	case actionStart, actionStop, actionRestart:
		return action, nil
	default:
		return "", fmt.Errorf("unknown command %q", action)
	}
}

// commandRunner executes remote commands one at a time, off the MQTT
// callback goroutine. A start can block for the whole readiness timeout.
type commandRunner struct {
	ctl   controller
	log   *logging.Logger
	queue chan string
}

func newCommandRunner(ctl controller, log *logging.Logger) *commandRunner {
	return &commandRunner{
		ctl:   ctl,
		log:   log,
		queue: make(chan string, commandQueueSize),
	}
}

// Handle is an mqtt.MessageHandler. It only queues the command.
func (r *commandRunner) Handle(topic string, payload []byte) error {
	action, err := parseCommand(payload)
	if err != nil {
		return err
	}
	select {
	case r.queue <- action:
		r.log.Debug("remote command queued", "topic", topic, "action", action)
		return nil
	default:
		return fmt.Errorf("command queue full, dropping %q", action)
	}
}

// Run executes queued commands until ctx is cancelled.
func (r *commandRunner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case action := <-r.queue:
			r.execute(ctx, action)
		}
	}
}

func (r *commandRunner) execute(ctx context.Context, action string) {
	var err error
	switch action {
	case actionStart:
		err = r.ctl.Start(ctx)
	case actionStop:
		_, err = r.ctl.Stop(ctx)
	case actionRestart:
		err = r.ctl.Restart(ctx)
	}
	if err != nil {
		r.log.Warn("remote command failed", "action", action, "error", err)
		return
	}
	r.log.Info("remote command completed", "action", action)
}
