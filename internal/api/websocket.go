package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/config"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
)

// Frame types. Clients send subscribe, unsubscribe, ping and command;
// the host sends event, response, ack, pong and error.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeCommand     = "command"
	WSTypeAck         = "ack"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	wsSendBuffer      = 256
	wsCommandTimeout  = 30 * time.Second
	wsDefaultMaxBytes = 8192
	wsDefaultPing     = 30 * time.Second
	wsDefaultPong     = 10 * time.Second
)

// WSMessage is one WebSocket frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"ts,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names channels or ".*" patterns.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSCommandPayload is a command envelope addressed to a module.
type WSCommandPayload struct {
	Module string `json:"module"`
	protocol.Envelope
}

// inboundFrame keeps the payload raw until the type is known.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are policed by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// subscribeRelay bridges the retained registry snapshot and every module's
// events from MQTT onto the hub.
func (s *Server) subscribeRelay() error {
	if s.mqtt == nil {
		return nil
	}
	t := mqtt.Topics{}

	s.logger.Info("subscribing websocket relay", "registry", t.Registry(), "events", t.AllOrchestratorEvents())
	if err := s.mqtt.Subscribe(t.Registry(), 1, func(_ string, payload []byte) error {
		return s.relay(ChannelRegistry, payload, true)
	}); err != nil {
		return err
	}
	return s.mqtt.Subscribe(t.AllOrchestratorEvents(), 1, func(topic string, payload []byte) error {
		module, _, ok := mqtt.ParseOrchestratorTopic(topic)
		if !ok {
			return nil
		}
		return s.relay(EventChannel(module), payload, false)
	})
}

// relay runs on the MQTT delivery goroutine; Hub.Publish does not block.
func (s *Server) relay(channel string, payload []byte, retain bool) error {
	if len(payload) == 0 {
		return nil
	}
	var body any
	if err := json.Unmarshal(payload, &body); err != nil {
		s.logger.Warn("dropping non-JSON relay payload", "channel", channel, "error", err)
		return nil
	}
	s.hub.Publish(channel, body, retain)
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn, s.dispatcher)
	s.hub.register(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

// wsClient is one connected browser or tool.
type wsClient struct {
	hub        *Hub
	conn       *websocket.Conn
	dispatcher *dispatcher.Dispatcher

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.RWMutex
	patterns map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn, d *dispatcher.Dispatcher) *wsClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsClient{
		hub:        hub,
		conn:       conn,
		dispatcher: d,
		send:       make(chan []byte, wsSendBuffer),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		patterns:   make(map[string]struct{}),
	}
}

// close is idempotent. The send channel is never closed, so enqueue
// cannot panic.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// enqueue reports whether frame was buffered.
func (c *wsClient) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for p := range c.patterns {
		if channelMatch(p, channel) {
			return true
		}
	}
	return false
}

func keepalive(cfg config.WebSocketConfig) (maxBytes int64, ping, pong time.Duration) {
	maxBytes, ping, pong = int64(cfg.MaxMessageSize), time.Duration(cfg.PingInterval)*time.Second, time.Duration(cfg.PongTimeout)*time.Second
	if maxBytes <= 0 {
		maxBytes = wsDefaultMaxBytes
	}
	if ping <= 0 {
		ping = wsDefaultPing
	}
	if pong <= 0 {
		pong = wsDefaultPong
	}
	return maxBytes, ping, pong
}

func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer c.hub.unregister(c)

	maxBytes, ping, pong := keepalive(cfg)
	c.conn.SetReadLimit(maxBytes)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(ping + pong)) }
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings still keep the session by talking.
		//nolint:errcheck // see above
		extend()
		c.handle(data)
	}
}

func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	_, ping, pong := keepalive(cfg)
	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	for {
		var (
			kind = websocket.TextMessage
			data []byte
		)
		select {
		case <-c.done:
			//nolint:errcheck // connection is going away regardless
			c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(pong))
			return
		case data = <-c.send:
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(pong))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			c.hub.unregister(c)
			return
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON frame"))
		return
	}

	switch in.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if err := json.Unmarshal(in.Payload, &sub); err != nil || len(sub.Channels) == 0 {
			c.reply(in.ID, WSTypeError, errorPayload("payload.channels must be a non-empty list"))
			return
		}
		if in.Type == WSTypeSubscribe {
			c.subscribe(in.ID, sub.Channels)
		} else {
			c.unsubscribe(in.ID, sub.Channels)
		}
	case WSTypePing:
		c.reply(in.ID, WSTypePong, nil)
	case WSTypeCommand:
		c.command(in.ID, in.Payload)
	default:
		c.reply(in.ID, WSTypeError, errorPayload("unknown frame type: "+in.Type))
	}
}

func (c *wsClient) subscribe(id string, channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		c.patterns[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"subscribed": channels})
	c.hub.replay(c, channels)
}

func (c *wsClient) unsubscribe(id string, channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.patterns, ch)
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

// command submits an envelope on the client's behalf. The ack comes back
// as an "ack" frame and is also published on MQTT like any other.
func (c *wsClient) command(id string, raw json.RawMessage) {
	if c.dispatcher == nil {
		c.reply(id, WSTypeError, errorPayload("commands are not available"))
		return
	}
	var cmd WSCommandPayload
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Module == "" || cmd.Action == "" {
		c.reply(id, WSTypeError, errorPayload("payload needs module and action"))
		return
	}
	if cmd.Actor == "" {
		cmd.Actor = "ws"
	}

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, wsCommandTimeout)
		defer cancel()

		ack, err := c.dispatcher.Submit(ctx, cmd.Module, cmd.Envelope)
		switch {
		case errors.Is(err, dispatcher.ErrUnknownModule):
			c.reply(id, WSTypeError, errorPayload("unknown module: "+cmd.Module))
		case err != nil:
			c.reply(id, WSTypeError, errorPayload(err.Error()))
		default:
			c.reply(id, WSTypeAck, ack)
		}
	}()
}

func (c *wsClient) reply(id, kind string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}
