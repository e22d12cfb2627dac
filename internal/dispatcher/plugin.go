package dispatcher

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
	"github.com/nerrad567/lab-orchestrator-core/internal/registry"
	"github.com/nerrad567/lab-orchestrator-core/internal/scheduler"
)

// Plugin handles the commands for one module.
type Plugin interface {
	// Name is the module name, unique across the host (e.g. "ndi").
	Name() string

	// TopicFilters are the filters the dispatcher subscribes on the
	// plugin's behalf, normally just /lab/orchestrator/{module}/cmd.
	TopicFilters() []string

	// Handle answers one envelope. It runs on the module's lane and must
	// return the single ack for the envelope.
	Handle(ctx context.Context, topic string, env protocol.Envelope) protocol.Ack
}

// RouteProvider is implemented by plugins exposing REST routes. Routes are
// mounted under /api/{module}.
type RouteProvider interface {
	Routes(r chi.Router)
}

// UIDescriptor names a plugin's UI panel. The host forwards it unchanged.
type UIDescriptor struct {
	Module   string `json:"module"`
	Path     string `json:"path"`
	Title    string `json:"title"`
	Template string `json:"template"`
}

// UIProvider is implemented by plugins with a UI panel.
type UIProvider interface {
	UI() UIDescriptor
}

// Starter is implemented by plugins with startup work.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by plugins with shutdown work.
type Stopper interface {
	Stop() error
}

// Transport is the subset of the MQTT client the dispatcher uses.
type Transport interface {
	Subscribe(filter string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishJSON(topic string, v any, retained bool) error
}

// Logger defines the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventSink records acks and job fires for later analysis.
type EventSink interface {
	RecordAck(module string, ack protocol.Ack)
	RecordJobFire(module, jobID string, relayed, skipped, failed int)
}

// HostContext is everything a plugin may use. It is built once by the
// dispatcher and shared by every plugin.
type HostContext struct {
	Transport    Transport
	Registry     *registry.Registry
	Scheduler    *scheduler.Scheduler
	Relay        *Relay
	Dispatcher   *Dispatcher
	Logger       Logger
	DefaultLease time.Duration
}

// Factory builds a plugin from its configuration settings.
type Factory func(host *HostContext, settings map[string]any) (Plugin, error)

// Factories maps plugin names (as used in configuration) to factories.
type Factories map[string]Factory
