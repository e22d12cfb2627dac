package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/config"
)

// Client is one broker connection shared by the whole host.
//
// Filters are owned by the Client rather than by paho: every filter is kept
// for the client's lifetime and re-issued after each reconnect, and each
// inbound message is matched against all of them. Handlers therefore never
// see connection loss, only gaps.
//
// All methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	// tool clients (ConnectEphemeral) set no will and never touch the
	// host status topic.
	tool bool

	connected atomic.Bool

	mu     sync.RWMutex
	subs   map[string]subscription
	onUp   func()
	onDown func(err error)
	logger Logger
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one inbound message. Handlers run one at a time,
// in arrival order, on the delivery goroutine, so they must not block;
// the dispatcher only enqueues. A returned error is logged and otherwise
// ignored.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits up to connectTimeout for the session.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures the Last Will on /lab/orchestrator/status
//  3. Routes every inbound message through the Client's own filters
//  4. Attempts the initial connection with timeout
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrConnectionFailed if no session is established in time
//
// The host's retained status on /lab/orchestrator/status is set online on
// every (re)connect, offline on Close, and offline by the broker via the
// Last Will if the host vanishes. Paho keeps reconnecting with backoff
// between reconnect.initial_delay and reconnect.max_delay.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	return newClient(cfg, false).dial()
}

// ConnectEphemeral connects a short-lived tool client. It sets no Last Will
// and its Close does not touch the host status topic, so it can run beside
// a live host.
func ConnectEphemeral(cfg config.MQTTConfig) (*Client, error) {
	return newClient(cfg, true).dial()
}

func newClient(cfg config.MQTTConfig, tool bool) *Client {
	c := &Client{
		cfg:  cfg,
		tool: tool,
		subs: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	if !tool {
		configureLWT(opts, cfg.Broker.ClientID)
	}
	// No per-filter callbacks are given to paho; everything lands here.
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.route(msg.Topic(), msg.Payload())
	})
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.up() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.down(err) })

	c.paho = pahomqtt.NewClient(opts)
	return c
}

func (c *Client) dial() (*Client, error) {
	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// ConnectRetry would keep dialling in the background.
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: no session after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect callback may still be in flight.
	c.connected.Store(true)
	return c, nil
}

// up runs on every successful (re)connect.
func (c *Client) up() {
	c.connected.Store(true)
	c.resubscribe()
	if !c.tool {
		c.paho.Publish(Topics{}.HostStatus(), byte(c.cfg.QoS), true,
			buildStatusPayload(c.cfg.Broker.ClientID, true, ""))
	}

	c.mu.RLock()
	callback := c.onUp
	c.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) down(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	callback := c.onDown
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// resubscribe re-issues every filter without blocking the paho callback.
func (c *Client) resubscribe() {
	c.mu.RLock()
	subs := make([]subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	for _, s := range subs {
		token := c.paho.Subscribe(s.filter, s.qos, nil)
		go func(filter string) {
			if err := await(token, ErrSubscribeFailed); err != nil {
				c.warn("MQTT resubscribe failed", "filter", filter, "error", err)
			}
		}(s.filter)
	}
}

// route hands a message to every handler whose filter matches the topic.
func (c *Client) route(topic string, payload []byte) {
	c.mu.RLock()
	var matched []subscription
	for _, s := range c.subs {
		if Match(s.filter, topic) {
			matched = append(matched, s)
		}
	}
	c.mu.RUnlock()

	for _, s := range matched {
		c.deliver(s, topic, payload)
	}
}

// deliver isolates one handler: a panic or error is logged and the
// remaining matches still run.
func (c *Client) deliver(s subscription, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("MQTT handler panic recovered", "topic", topic, "filter", s.filter, "panic", r)
		}
	}()
	if err := s.handler(topic, payload); err != nil {
		c.warn("MQTT handler returned error", "topic", topic, "filter", s.filter, "error", err)
	}
}

// Close publishes a graceful offline status (unless this is a tool client)
// and disconnects, allowing in-flight work a short quiesce.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}

	if c.IsConnected() && !c.tool {
		token := c.paho.Publish(Topics{}.HostStatus(), byte(c.cfg.QoS), true,
			buildStatusPayload(c.cfg.Broker.ClientID, false, "graceful_shutdown"))
		token.WaitTimeout(operationTimeout)
	}

	c.paho.Disconnect(disconnectQuiesceMS)
	c.connected.Store(false)
	return nil
}

// HealthCheck fails if ctx is done or the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected is false while paho is between reconnect attempts.
func (c *Client) IsConnected() bool {
	if c == nil || c.paho == nil {
		return false
	}
	return c.connected.Load() && c.paho.IsConnectionOpen()
}

// SetOnConnect installs a callback run after every (re)connect, once
// filters have been re-issued.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onUp = callback
	c.mu.Unlock()
}

// SetOnDisconnect installs a callback run when the session is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDown = callback
	c.mu.Unlock()
}

// SetLogger enables logging of handler failures. Without one they are silent.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) warn(msg string, args ...any) {
	c.mu.RLock()
	l := c.logger
	c.mu.RUnlock()
	if l != nil {
		l.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	c.mu.RLock()
	l := c.logger
	c.mu.RUnlock()
	if l != nil {
		l.Error(msg, args...)
	}
}

// await waits up to operationTimeout for token, wrapping failures in op.
func await(token pahomqtt.Token, op error) error {
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: timeout after %v", op, operationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}
