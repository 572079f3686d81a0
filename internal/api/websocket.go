package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/vrpn-core/internal/infrastructure/config"
	"github.com/nerrad567/vrpn-core/internal/process"
)

// Message types on the log WebSocket.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// sendQueueSize bounds the events buffered for a slow client. Events for
// a client whose queue is full are dropped.
const sendQueueSize = 256

// WSMessage is the envelope for every WebSocket frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists channels for subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is an inbound WSMessage with its payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Log viewers are served from other origins on the lab network.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

// handleWebSocket streams server output and state changes. Clients follow
// the state channel and both output streams unless ?streams= (comma
// separated) picks the streams, e.g. ?streams=stderr.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channels, err := initialChannels(r.URL.Query().Get("streams"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &wsClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		channels: channels,
	}
	s.hub.add(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

func initialChannels(streams string) (map[string]struct{}, error) {
	channels := map[string]struct{}{ChannelState: {}}
	if streams == "" {
		channels[OutputChannel(process.Stdout)] = struct{}{}
		channels[OutputChannel(process.Stderr)] = struct{}{}
		return channels, nil
	}
	for _, name := range strings.Split(streams, ",") {
		switch stream := process.Stream(strings.TrimSpace(name)); stream {
		case process.Stdout, process.Stderr:
			channels[OutputChannel(stream)] = struct{}{}
		default:
			return nil, fmt.Errorf("unknown stream: %s", name)
		}
	}
	return channels, nil
}

func (c *wsClient) follows(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// deliver queues data unless the client is gone or too far behind.
func (c *wsClient) deliver(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// shutdown closes the send queue once; writeLoop then sends a close frame.
func (c *wsClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings stay alive by talking.
		extend() //nolint:errcheck // as above
		c.handle(data)
	}
}

func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // the write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(WSTypeError, "", map[string]string{"message": "invalid JSON message"})
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.changeSubscription(req)
	case WSTypePing:
		c.reply(WSTypePong, req.ID, nil)
	default:
		c.reply(WSTypeError, req.ID, map[string]string{"message": "unknown message type: " + req.Type})
	}
}

func (c *wsClient) changeSubscription(req wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &sub); err != nil {
		c.reply(WSTypeError, req.ID, map[string]string{"message": "invalid " + req.Type + " payload"})
		return
	}
	for _, ch := range sub.Channels {
		if !knownChannel(ch) {
			c.reply(WSTypeError, req.ID, map[string]string{"message": "unknown channel: " + ch})
			return
		}
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if req.Type == WSTypeSubscribe {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "subscribed"
	if req.Type == WSTypeUnsubscribe {
		key = "unsubscribed"
	}
	c.reply(WSTypeResponse, req.ID, map[string][]string{key: sub.Channels})
}

func (c *wsClient) reply(kind, id string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.deliver(data)
}
