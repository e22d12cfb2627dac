package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/config"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/metrics"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
	"github.com/nerrad567/lab-orchestrator-core/internal/registry"
	"github.com/nerrad567/lab-orchestrator-core/internal/scheduler"
	"github.com/nerrad567/lab-orchestrator-core/internal/worker"
)

const (
	defaultQueueSize   = 256
	defaultStopTimeout = 10 * time.Second
	defaultLease       = 60 * time.Second

	// ingestLane carries device meta/status into the registry.
	ingestLane = "registry"
)

// inbound is one unit of work on a lane.
type inbound struct {
	topic   string
	payload []byte
	env     *protocol.Envelope  // set for Submit; payload is parsed otherwise
	reply   chan<- protocol.Ack // set for Submit
}

// lane is a module's plugin and its single-worker queue.
type lane struct {
	plugin Plugin
	pool   *worker.Pool[inbound]
}

// Dispatcher owns the plugins and their lanes.
type Dispatcher struct {
	transport Transport
	host      *HostContext
	logger    Logger
	metrics   *metrics.Metrics
	sink      EventSink

	qos         byte
	queueSize   int
	stopTimeout time.Duration

	mu      sync.RWMutex
	lanes   map[string]*lane
	ingest  *worker.Pool[inbound]
	ctx     context.Context
	started bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger. It is also the plugins' logger.
func WithLogger(l Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records acks, handling time and lane statistics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithSink records every published ack.
func WithSink(s EventSink) Option {
	return func(d *Dispatcher) { d.sink = s }
}

// WithQoS sets the QoS for subscriptions.
func WithQoS(qos byte) Option {
	return func(d *Dispatcher) { d.qos = qos }
}

// WithQueueSize sets each lane's queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queueSize = n }
}

// WithStopTimeout bounds how long Stop waits for each lane to drain.
func WithStopTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.stopTimeout = t }
}

// WithDefaultLease sets the lease used when reserve omits lease_s.
func WithDefaultLease(l time.Duration) Option {
	return func(d *Dispatcher) { d.host.DefaultLease = l }
}

// WithConfig applies the dispatcher and lease settings from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(d *Dispatcher) {
		d.qos = byte(cfg.MQTT.QoS)
		d.queueSize = cfg.Dispatcher.QueueSize
		if cfg.Dispatcher.StopTimeout > 0 {
			d.stopTimeout = time.Duration(cfg.Dispatcher.StopTimeout) * time.Second
		}
		d.host.DefaultLease = cfg.DefaultLease()
	}
}

// New creates a dispatcher. relay must be the same Relay the scheduler
// executes jobs through.
//
// Parameters:
//   - transport: MQTT client used for subscriptions and acks
//   - reg: device registry shared with the relay and the API
//   - sched: scheduler that owns the jobs plugins create
//   - relay: relay the scheduler's executor publishes through
//   - opts: optional logger, metrics, sink and lane sizing
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Each module's commands run one at a time, in arrival order.
func New(transport Transport, reg *registry.Registry, sched *scheduler.Scheduler, relay *Relay, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport:   transport,
		logger:      noopLogger{},
		qos:         1,
		queueSize:   defaultQueueSize,
		stopTimeout: defaultStopTimeout,
		lanes:       make(map[string]*lane),
		ctx:         context.Background(),
	}
	d.host = &HostContext{
		Transport:    transport,
		Registry:     reg,
		Scheduler:    sched,
		Relay:        relay,
		Dispatcher:   d,
		DefaultLease: defaultLease,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.host.Logger = d.logger
	d.ingest = worker.NewPool(ingestLane, 1, d.queueSize, d.processIngest,
		worker.WithMetrics[inbound](d.metrics.Registerer()))
	return d
}

// Host returns the shared plugin context.
func (d *Dispatcher) Host() *HostContext { return d.host }

// Load builds and registers the configured plugins.
func (d *Dispatcher) Load(factories Factories, plugins []config.PluginConfig) error {
	for _, pc := range plugins {
		factory, ok := factories[pc.Module]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPlugin, pc.Module)
		}
		p, err := factory(d.host, pc.Settings)
		if err != nil {
			return fmt.Errorf("building plugin %q: %w", pc.Module, err)
		}
		if err := d.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a plugin. After Start, the plugin's lane is started and its
// filters subscribed immediately.
func (d *Dispatcher) Register(p Plugin) error {
	name := p.Name()

	d.mu.Lock()
	if _, exists := d.lanes[name]; exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateModule, name)
	}
	l := &lane{plugin: p}
	l.pool = worker.NewPool(name, 1, d.queueSize,
		func(ctx context.Context, in inbound) error { return d.process(ctx, l, in) },
		worker.WithMetrics[inbound](d.metrics.Registerer()))
	d.lanes[name] = l
	started, ctx := d.started, d.ctx
	d.mu.Unlock()

	d.host.Registry.SetModules(d.Modules())
	d.logger.Info("plugin registered", "module", name, "filters", p.TopicFilters())

	if started {
		return d.startLane(ctx, name, l)
	}
	return nil
}

// Start runs the lanes, subscribes device ingest and every plugin filter,
// and starts plugins that implement Starter.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.ctx = ctx
	lanes := make(map[string]*lane, len(d.lanes))
	for name, l := range d.lanes {
		lanes[name] = l
	}
	d.mu.Unlock()

	if err := d.ingest.Start(ctx); err != nil {
		return fmt.Errorf("starting ingest lane: %w", err)
	}
	for _, filter := range registry.IngestFilters() {
		if err := d.transport.Subscribe(filter, d.qos, d.deliverIngest); err != nil {
			return fmt.Errorf("subscribing %s: %w", filter, err)
		}
	}

	for _, name := range sortedKeys(lanes) {
		if err := d.startLane(ctx, name, lanes[name]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) startLane(ctx context.Context, name string, l *lane) error {
	if err := l.pool.Start(ctx); err != nil {
		return fmt.Errorf("starting lane %q: %w", name, err)
	}
	for _, filter := range l.plugin.TopicFilters() {
		if err := d.transport.Subscribe(filter, d.qos, d.deliver(name, l)); err != nil {
			return fmt.Errorf("subscribing %s for %q: %w", filter, name, err)
		}
	}
	if s, ok := l.plugin.(Starter); ok {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("starting plugin %q: %w", name, err)
		}
	}
	return nil
}

// Stop drains every lane and stops plugins that implement Stopper.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	lanes := make(map[string]*lane, len(d.lanes))
	for name, l := range d.lanes {
		lanes[name] = l
	}
	d.started = false
	d.mu.Unlock()

	var errs []error
	for _, name := range sortedKeys(lanes) {
		l := lanes[name]
		if err := l.pool.Stop(d.stopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("stopping lane %q: %w", name, err))
		}
		if s, ok := l.plugin.(Stopper); ok {
			if err := s.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stopping plugin %q: %w", name, err))
			}
		}
	}
	if err := d.ingest.Stop(d.stopTimeout); err != nil {
		errs = append(errs, fmt.Errorf("stopping ingest lane: %w", err))
	}
	return errors.Join(errs...)
}

// Submit runs env through the module's lane and waits for its ack. The ack
// is also published, exactly as for a command received over MQTT.
func (d *Dispatcher) Submit(ctx context.Context, module string, env protocol.Envelope) (protocol.Ack, error) {
	l, ok := d.lane(module)
	if !ok {
		return protocol.Ack{}, fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}

	normalise(&env)
	return d.await(ctx, module, l, inbound{
		topic: mqtt.Topics{}.OrchestratorCommand(module),
		env:   &env,
	}, env.ReqID)
}

// SubmitPayload is Submit for raw envelope bytes. The payload is validated
// on the lane against the same schema as MQTT commands, except that a
// missing req_id is assigned. Every outcome, rejection included, is an ack
// that is also published.
func (d *Dispatcher) SubmitPayload(ctx context.Context, module string, payload []byte) (protocol.Ack, error) {
	l, ok := d.lane(module)
	if !ok {
		return protocol.Ack{}, fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}

	payload, reqID, err := protocol.EnsureReqID(payload, uuid.NewString)
	if err != nil {
		ack := failure(uuid.NewString(), err)
		d.emit(module, ack)
		return ack, nil
	}
	return d.await(ctx, module, l, inbound{
		topic:   mqtt.Topics{}.OrchestratorCommand(module),
		payload: payload,
	}, reqID)
}

// await enqueues in with a reply channel and waits for its ack. A full
// lane answers busy at once.
func (d *Dispatcher) await(ctx context.Context, module string, l *lane, in inbound, reqID string) (protocol.Ack, error) {
	reply := make(chan protocol.Ack, 1)
	in.reply = reply

	err := l.pool.Submit(in)
	if errors.Is(err, worker.ErrQueueFull) {
		ack := failure(reqID, err)
		d.emit(module, ack)
		return ack, nil
	}
	if err != nil {
		return protocol.Ack{}, fmt.Errorf("submitting to %q: %w", module, err)
	}

	select {
	case ack := <-reply:
		return ack, nil
	case <-ctx.Done():
		return protocol.Ack{}, ctx.Err()
	}
}

// Modules returns the registered module names, sorted.
func (d *Dispatcher) Modules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.lanes)
}

// Plugin returns the plugin registered for module.
func (d *Dispatcher) Plugin(module string) (Plugin, bool) {
	l, ok := d.lane(module)
	if !ok {
		return nil, false
	}
	return l.plugin, true
}

// UIDescriptors returns the UI panels of plugins that provide one, by module.
func (d *Dispatcher) UIDescriptors() []UIDescriptor {
	var out []UIDescriptor
	for _, name := range d.Modules() {
		p, _ := d.Plugin(name)
		if ui, ok := p.(UIProvider); ok {
			desc := ui.UI()
			desc.Module = name
			out = append(out, desc)
		}
	}
	return out
}

// LaneStats reports queue statistics for every lane, ingest included.
func (d *Dispatcher) LaneStats() []worker.PoolStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := []worker.PoolStats{d.ingest.Stats()}
	for _, name := range sortedKeys(d.lanes) {
		out = append(out, d.lanes[name].pool.Stats())
	}
	return out
}

func (d *Dispatcher) lane(module string) (*lane, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.lanes[module]
	return l, ok
}

// deliver returns the MQTT handler for a module's filters. It only
// enqueues; it never blocks the delivery goroutine.
func (d *Dispatcher) deliver(module string, l *lane) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		err := l.pool.Submit(inbound{topic: topic, payload: payload})
		if errors.Is(err, worker.ErrQueueFull) {
			if reqID := protocol.PeekReqID(payload); reqID != "" {
				go d.emit(module, failure(reqID, err))
			}
		}
		return err
	}
}

func (d *Dispatcher) deliverIngest(topic string, payload []byte) error {
	return d.ingest.Submit(inbound{topic: topic, payload: payload})
}

func (d *Dispatcher) processIngest(_ context.Context, in inbound) error {
	if err := d.host.Registry.HandleDeviceMessage(in.topic, in.payload); err != nil {
		d.logger.Warn("device message rejected", "topic", in.topic, "error", err)
		return err
	}
	return nil
}

// process handles one inbound item on a lane and publishes its ack.
func (d *Dispatcher) process(ctx context.Context, l *lane, in inbound) error {
	module := l.plugin.Name()

	env := in.env
	if env == nil {
		parsed, err := protocol.ParseEnvelope(in.payload)
		if err != nil {
			ack := failure(parsed.ReqID, err)
			if parsed.ReqID == "" {
				d.logger.Warn("command dropped: no req_id to acknowledge",
					"module", module, "topic", in.topic, "error", err)
			} else {
				d.emit(module, ack)
			}
			if in.reply != nil {
				in.reply <- ack
			}
			return err
		}
		env = &parsed
	}

	start := time.Now()
	ack := d.handle(ctx, l.plugin, in.topic, *env)
	d.metrics.RecordHandleDuration(module, time.Since(start))

	d.emit(module, ack)
	if in.reply != nil {
		in.reply <- ack
	}
	if !ack.OK {
		return fmt.Errorf("%s: %s", module, ack.ErrorCode())
	}
	return nil
}

// handle calls the plugin, turning a panic into an internal_error ack and
// an ack for the wrong req_id into one for the right req_id.
func (d *Dispatcher) handle(ctx context.Context, p Plugin, topic string, env protocol.Envelope) (ack protocol.Ack) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("plugin panic recovered",
				"module", p.Name(), "action", env.Action, "req_id", env.ReqID, "panic", r)
			ack = protocol.Failure(env.ReqID, protocol.ErrCodeInternal, fmt.Sprintf("plugin panic: %v", r))
		}
	}()

	ack = p.Handle(ctx, topic, env)
	ack.ReqID = env.ReqID
	if ack.Details == nil {
		ack.Details = map[string]any{}
	}
	if ack.TS == "" {
		ack.TS = protocol.Now()
	}
	ack.V = protocol.Version
	return ack
}

// emit publishes an ack on the module's evt topic and records it.
func (d *Dispatcher) emit(module string, ack protocol.Ack) {
	d.metrics.RecordAck(module, ack.Result())
	if d.sink != nil {
		d.sink.RecordAck(module, ack)
	}

	if err := d.transport.PublishJSON(mqtt.Topics{}.OrchestratorEvent(module), ack, false); err != nil {
		d.logger.Warn("ack publish failed", "module", module, "req_id", ack.ReqID, "error", err)
	}
}

// normalise fills envelope defaults for commands built in-process.
func normalise(env *protocol.Envelope) {
	if env.ReqID == "" {
		env.ReqID = uuid.NewString()
	}
	if env.Actor == "" {
		env.Actor = protocol.DefaultActor
	}
	if env.Params == nil {
		env.Params = map[string]any{}
	}
	if env.TS == "" {
		env.TS = protocol.Now()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
