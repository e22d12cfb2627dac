package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/metrics"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
)

// Logger defines the logging interface used by the Registry.
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

// Publisher sends retained JSON state. *mqtt.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Registry is the in-memory device map and lease table.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*record
	leases  map[string]Lease
	modules []string
	seq     uint64 // bumped on every accepted mutation

	// publishMu orders snapshot publication; lastPublished drops snapshots
	// overtaken by a newer one.
	publishMu     sync.Mutex
	lastPublished uint64

	now       func() time.Time
	publisher Publisher
	logger    Logger
	metrics   *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for lease expiry and timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithPublisher sets where snapshots are published after each mutation.
func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// WithLogger sets the registry logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithModules sets the module names reported in snapshots.
func WithModules(names ...string) Option {
	return func(r *Registry) { r.modules = sortedCopy(names) }
}

// WithMetrics records device and lease counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		devices: make(map[string]*record),
		leases:  make(map[string]Lease),
		modules: []string{},
		now:     time.Now,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetModules replaces the module list reported in snapshots and publishes.
func (r *Registry) SetModules(names []string) {
	r.mu.Lock()
	r.modules = sortedCopy(names)
	seq, snap := r.commitLocked()
	r.mu.Unlock()

	r.publish(seq, snap)
}

// Snapshot returns a consistent point-in-time copy of devices, live locks
// and modules.
func (r *Registry) Snapshot() protocol.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.now())
}

// Device returns a copy of one device record.
func (r *Registry) Device(id string) (protocol.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.devices[id]
	if !ok {
		return protocol.Device{}, ErrUnknownDevice
	}
	return rec.toWire(id), nil
}

// Devices returns copies of every device, sorted by ID.
func (r *Registry) Devices() []protocol.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.Device, 0, len(r.devices))
	for id, rec := range r.devices {
		out = append(out, rec.toWire(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Publish re-sends the current snapshot, e.g. after the transport reconnects.
func (r *Registry) Publish() {
	r.mu.Lock()
	seq, snap := r.commitLocked()
	r.mu.Unlock()

	r.publish(seq, snap)
}

// snapshotLocked builds a snapshot. Caller holds r.mu.
func (r *Registry) snapshotLocked(now time.Time) protocol.Snapshot {
	devices := make(map[string]protocol.Device, len(r.devices))
	for id, rec := range r.devices {
		devices[id] = rec.toWire(id)
	}

	locks := make(map[string]protocol.Lock, len(r.leases))
	for key, l := range r.leases {
		if !l.liveAt(now) {
			continue
		}
		locks[key] = protocol.Lock{Holder: l.Holder, ExpiresAt: protocol.FormatTime(l.ExpiresAt)}
	}

	return protocol.Snapshot{
		Devices: devices,
		Locks:   locks,
		Modules: append([]string(nil), r.modules...),
		TS:      protocol.FormatTime(now),
	}
}

// commitLocked records an accepted mutation and captures the snapshot that
// reflects it. Caller holds r.mu.
func (r *Registry) commitLocked() (uint64, protocol.Snapshot) {
	r.seq++
	snap := r.snapshotLocked(r.now())
	r.metrics.RecordRegistrySize(len(snap.Devices), len(snap.Locks))
	return r.seq, snap
}

// publish sends snap unless a newer snapshot has already gone out.
func (r *Registry) publish(seq uint64, snap protocol.Snapshot) {
	if r.publisher == nil {
		return
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	if seq <= r.lastPublished {
		return
	}
	r.lastPublished = seq

	if err := r.publisher.PublishJSON(mqtt.Topics{}.Registry(), snap, true); err != nil {
		r.logger.Warn("registry snapshot publish failed", "seq", seq, "error", err)
	}
}

func sortedCopy(names []string) []string {
	out := append([]string{}, names...)
	sort.Strings(out)
	return out
}
