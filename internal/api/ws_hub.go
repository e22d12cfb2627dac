package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/logging"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/metrics"
)

const (
	// ChannelRegistry carries every registry snapshot. The last snapshot is
	// replayed to each new subscriber.
	ChannelRegistry = "registry"

	// ChannelAllEvents matches every module's event channel.
	ChannelAllEvents = channelEventPrefix + "*"

	channelEventPrefix = "evt."
)

// EventChannel returns the channel carrying a module's acks and job events.
func EventChannel(module string) string {
	return channelEventPrefix + module
}

// channelMatch reports whether a subscription pattern covers channel.
// A pattern ending in ".*" matches every channel with that prefix.
func channelMatch(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasSuffix(prefix, ".") {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

// Hub fans relayed MQTT traffic out to WebSocket clients by channel.
type Hub struct {
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	retained map[string][]byte
}

// NewHub creates a hub. m may be nil.
func NewHub(logger *logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:   logger,
		metrics:  m,
		clients:  make(map[*wsClient]struct{}),
		retained: make(map[string][]byte),
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
		c.close()
	}
	h.metrics.RecordWebSocketClients(0)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.RecordWebSocketClients(n)
	h.logger.Debug("websocket client connected", "clients", n)
}

// unregister drops c and closes it. Calling it twice is harmless.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	h.metrics.RecordWebSocketClients(n)
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Publish sends payload to every client subscribed to channel. With retain
// set, the frame is also kept and replayed to later subscribers.
// It never blocks: a client whose buffer is full misses the frame.
func (h *Hub) Publish(channel string, payload any, retain bool) {
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket frame", "channel", channel, "error", err)
		return
	}

	h.mu.Lock()
	if retain {
		h.retained[channel] = frame
	}
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if c.subscribed(channel) && c.enqueue(frame) {
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("websocket frame sent", "channel", channel, "recipients", sent)
	}
}

// replay sends c the retained frames its new patterns cover.
func (h *Hub) replay(c *wsClient, patterns []string) {
	h.mu.RLock()
	var frames [][]byte
	for channel, frame := range h.retained {
		for _, p := range patterns {
			if channelMatch(p, channel) {
				frames = append(frames, frame)
				break
			}
		}
	}
	h.mu.RUnlock()

	for _, f := range frames {
		c.enqueue(f)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
