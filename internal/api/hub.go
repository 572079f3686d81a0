package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/vrpn-core/internal/infrastructure/config"
	"github.com/nerrad567/vrpn-core/internal/infrastructure/logging"
	"github.com/nerrad567/vrpn-core/internal/process"
)

// Event channels a client can follow.
const (
	// ChannelState carries process.Stats on every state transition.
	ChannelState = "server.state"

	channelOutputPrefix = "server.output."
)

// OutputChannel names the channel carrying lines from one output stream.
func OutputChannel(stream process.Stream) string {
	return channelOutputPrefix + string(stream)
}

// knownChannel reports whether name is a channel the hub ever broadcasts on.
func knownChannel(name string) bool {
	switch name {
	case ChannelState, OutputChannel(process.Stdout), OutputChannel(process.Stderr):
		return true
	}
	return false
}

// OutputLine is the payload of an output event.
type OutputLine struct {
	Stream process.Stream `json:"stream"`
	Line   string         `json:"line"`
}

// Hub fans server output and state changes out to WebSocket clients. It
// implements the telemetry live sink.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("log viewer connected", "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.shutdown()
		h.logger.Debug("log viewer disconnected", "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastLine sends one captured output line to clients following its
// stream.
func (h *Hub) BroadcastLine(stream process.Stream, line string) {
	h.broadcast(OutputChannel(stream), OutputLine{Stream: stream, Line: line})
}

// BroadcastState sends the server's stats after a state transition.
func (h *Hub) BroadcastState(stats process.Stats) {
	h.broadcast(ChannelState, stats)
}

func (h *Hub) broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	// Client locks are taken only after the hub lock is released.
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.follows(channel) {
			c.deliver(data)
		}
	}
}
