package dispatcher

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/metrics"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
	"github.com/nerrad567/lab-orchestrator-core/internal/registry"
	"github.com/nerrad567/lab-orchestrator-core/internal/scheduler"
)

// Relay result labels for metrics.
const (
	relayOK        = "ok"
	relayHeld      = "held_by_other"
	relayTransport = "transport_error"
)

// Relay publishes commands to device command topics. It is the single path
// used by live pass-through commands and by scheduled jobs.
type Relay struct {
	transport Transport
	registry  *registry.Registry
	qos       byte
	logger    Logger
	metrics   *metrics.Metrics
	sink      EventSink
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayQoS sets the QoS used for device commands (default 1).
func WithRelayQoS(qos byte) RelayOption {
	return func(r *Relay) { r.qos = qos }
}

// WithRelayLogger sets the relay logger.
func WithRelayLogger(l Logger) RelayOption {
	return func(r *Relay) { r.logger = l }
}

// WithRelayMetrics records relays and job fires.
func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

// WithRelaySink records job fires to an event sink.
func WithRelaySink(s EventSink) RelayOption {
	return func(r *Relay) { r.sink = s }
}

// NewRelay creates a relay over transport, checking leases in reg.
func NewRelay(transport Transport, reg *registry.Registry, opts ...RelayOption) *Relay {
	r := &Relay{
		transport: transport,
		registry:  reg,
		qos:       1,
		logger:    noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Forward sends env unchanged to the device named by params.device_id. It
// fails with registry.ErrHeldByOther when another actor holds the lease on
// "{module}:{device_id}".
func (r *Relay) Forward(module string, env protocol.Envelope) (string, error) {
	deviceID, ok := env.DeviceID()
	if !ok {
		return "", fmt.Errorf("%w: params.device_id is required", protocol.ErrBadRequest)
	}

	key := registry.Key(module, deviceID)
	if !r.registry.CanUse(key, env.Actor) {
		r.metrics.RecordRelay(module, relayHeld)
		holder := ""
		if l, ok := r.registry.Lease(key); ok {
			holder = l.Holder
		}
		return "", fmt.Errorf("%w: %s held by %s", registry.ErrHeldByOther, key, holder)
	}

	return r.send(module, deviceID, env)
}

// send publishes env to the device command topic without a lease check.
func (r *Relay) send(module, deviceID string, env protocol.Envelope) (string, error) {
	topic := mqtt.Topics{}.DeviceModuleCommand(deviceID, module)

	payload, err := env.Payload()
	if err != nil {
		return "", fmt.Errorf("encoding envelope: %w", err)
	}
	if err := r.transport.Publish(topic, payload, r.qos, false); err != nil {
		r.metrics.RecordRelay(module, relayTransport)
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}

	r.metrics.RecordRelay(module, relayOK)
	return topic, nil
}

// Execute replays a scheduled job's commands in order. Each command becomes
// a fresh envelope from "host:{submitter}". Commands whose lease is held by
// someone other than the submitter are skipped; publish failures are logged
// and the batch continues. A FIRED event summarising the run is published
// on the module's evt topic.
func (r *Relay) Execute(_ context.Context, job scheduler.Job) {
	relayed, skipped, failed := 0, 0, 0

	for _, cmd := range job.Commands {
		key := registry.Key(job.Module, cmd.DeviceID)
		if !r.registry.CanUse(key, job.Actor) {
			skipped++
			r.metrics.RecordRelay(job.Module, relayHeld)
			r.logger.Warn("scheduled command skipped: lease held by other",
				"job_id", job.ID, "key", key, "actor", job.Actor)
			continue
		}

		params := make(map[string]any, len(cmd.Params)+1)
		for k, v := range cmd.Params {
			params[k] = v
		}
		params["device_id"] = cmd.DeviceID

		env := protocol.Envelope{
			ReqID:  uuid.NewString(),
			Actor:  "host:" + job.Actor,
			TS:     protocol.Now(),
			Action: cmd.Action,
			Params: params,
		}
		if _, err := r.send(job.Module, cmd.DeviceID, env); err != nil {
			failed++
			r.logger.Warn("scheduled command relay failed",
				"job_id", job.ID, "device_id", cmd.DeviceID, "action", cmd.Action, "error", err)
			continue
		}
		relayed++
	}

	r.metrics.RecordJobFire(job.Module)
	if r.sink != nil {
		r.sink.RecordJobFire(job.Module, job.ID, relayed, skipped, failed)
	}

	evt := protocol.Success(job.ID, protocol.CodeFired, map[string]any{
		"job_id":     job.ID,
		"fire_count": job.FireCount,
		"relayed":    relayed,
		"skipped":    skipped,
		"failed":     failed,
	})
	if err := r.transport.PublishJSON(mqtt.Topics{}.OrchestratorEvent(job.Module), evt, false); err != nil {
		r.logger.Warn("job fire event publish failed", "job_id", job.ID, "error", err)
	}

	r.logger.Info("job fired",
		"job_id", job.ID, "module", job.Module,
		"relayed", relayed, "skipped", skipped, "failed", failed)
}
