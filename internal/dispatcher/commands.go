package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
	"github.com/nerrad567/lab-orchestrator-core/internal/registry"
	"github.com/nerrad567/lab-orchestrator-core/internal/scheduler"
)

// CommandHandler answers the host-level actions and forwards a fixed set of
// pass-through actions. Plugins embed it to get the standard command
// protocol for their module.
type CommandHandler struct {
	module      string
	passthrough map[string]bool
	host        *HostContext
}

// NewCommandHandler creates a handler for module that forwards the listed
// actions to devices.
func NewCommandHandler(host *HostContext, module string, passthrough ...string) *CommandHandler {
	set := make(map[string]bool, len(passthrough))
	for _, a := range passthrough {
		set[a] = true
	}
	return &CommandHandler{module: module, passthrough: set, host: host}
}

// Name returns the module name.
func (h *CommandHandler) Name() string { return h.module }

// TopicFilters returns the module's orchestrator command topic.
func (h *CommandHandler) TopicFilters() []string {
	return []string{mqtt.Topics{}.OrchestratorCommand(h.module)}
}

// Actions lists the pass-through actions, sorted.
func (h *CommandHandler) Actions() []string {
	out := make([]string, 0, len(h.passthrough))
	for a := range h.passthrough {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Handle dispatches one envelope by action.
func (h *CommandHandler) Handle(_ context.Context, _ string, env protocol.Envelope) protocol.Ack {
	switch {
	case env.Action == protocol.ActionReserve:
		return h.reserve(env)
	case env.Action == protocol.ActionRelease:
		return h.release(env)
	case env.Action == protocol.ActionSchedule:
		return h.schedule(env)
	case env.Action == protocol.ActionCancel:
		return h.cancel(env)
	case h.passthrough[env.Action]:
		return h.forward(env)
	default:
		return failure(env.ReqID, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action))
	}
}

// maxLeaseSeconds caps a reservation at one year.
const maxLeaseSeconds = 365 * 24 * 60 * 60

func (h *CommandHandler) reserve(env protocol.Envelope) protocol.Ack {
	deviceID, ok := env.DeviceID()
	if !ok {
		return failure(env.ReqID, fmt.Errorf("%w: params.device_id is required", protocol.ErrBadRequest))
	}
	leaseS, err := protocol.IntParam(env.Params, "lease_s", int(h.host.DefaultLease/time.Second))
	if err != nil {
		return failure(env.ReqID, err)
	}
	if leaseS <= 0 || leaseS > maxLeaseSeconds {
		return failure(env.ReqID, fmt.Errorf("%w: lease_s must be between 1 and %d", protocol.ErrBadRequest, maxLeaseSeconds))
	}

	key := registry.Key(h.module, deviceID)
	lease, err := h.host.Registry.Reserve(key, env.Actor, time.Duration(leaseS)*time.Second)
	if err != nil {
		return failure(env.ReqID, err)
	}

	return protocol.Success(env.ReqID, protocol.CodeReserved, map[string]any{
		"key":        key,
		"device_id":  deviceID,
		"holder":     lease.Holder,
		"expires_at": protocol.FormatTime(lease.ExpiresAt),
	})
}

func (h *CommandHandler) release(env protocol.Envelope) protocol.Ack {
	deviceID, ok := env.DeviceID()
	if !ok {
		return failure(env.ReqID, fmt.Errorf("%w: params.device_id is required", protocol.ErrBadRequest))
	}

	key := registry.Key(h.module, deviceID)
	if err := h.host.Registry.Release(key, env.Actor); err != nil {
		return failure(env.ReqID, err)
	}
	return protocol.Success(env.ReqID, protocol.CodeReleased, map[string]any{
		"key":       key,
		"device_id": deviceID,
	})
}

func (h *CommandHandler) schedule(env protocol.Envelope) protocol.Ack {
	at, hasAt := protocol.StringParam(env.Params, "at")
	expr, hasCron := protocol.StringParam(env.Params, "cron")
	if hasAt == hasCron {
		return failure(env.ReqID, fmt.Errorf("%w: exactly one of params.at or params.cron is required", protocol.ErrBadRequest))
	}

	raw, err := protocol.MapListParam(env.Params, "commands")
	if err != nil {
		return failure(env.ReqID, err)
	}
	cmds, err := scheduler.ParseCommands(raw)
	if err != nil {
		return failure(env.ReqID, err)
	}

	req := scheduler.Request{Module: h.module, Actor: env.Actor, Commands: cmds}
	var job scheduler.Job
	if hasAt {
		fireAt, perr := protocol.ParseTime(at)
		if perr != nil {
			return failure(env.ReqID, perr)
		}
		req.FireAt = fireAt
		job, err = h.host.Scheduler.ScheduleOnce(req)
	} else {
		req.Cron = expr
		job, err = h.host.Scheduler.ScheduleCron(req)
	}
	if err != nil {
		return failure(env.ReqID, err)
	}

	details := map[string]any{
		"job_id":   job.ID,
		"kind":     string(job.Kind),
		"commands": len(job.Commands),
	}
	if !job.NextFireAt.IsZero() {
		details["next_fire_at"] = protocol.FormatTime(job.NextFireAt)
	}
	return protocol.Success(env.ReqID, protocol.CodeScheduled, details)
}

func (h *CommandHandler) cancel(env protocol.Envelope) protocol.Ack {
	jobID, ok := protocol.StringParam(env.Params, "job_id")
	if !ok {
		return failure(env.ReqID, fmt.Errorf("%w: params.job_id is required", protocol.ErrBadRequest))
	}

	// Jobs are only visible to the module that scheduled them.
	job, err := h.host.Scheduler.Get(jobID)
	if err != nil || job.Module != h.module {
		return failure(env.ReqID, fmt.Errorf("%w: %s", scheduler.ErrJobNotFound, jobID))
	}
	if err := h.host.Scheduler.Cancel(jobID); err != nil {
		return failure(env.ReqID, err)
	}
	return protocol.Success(env.ReqID, protocol.CodeCancelled, map[string]any{"job_id": jobID})
}

func (h *CommandHandler) forward(env protocol.Envelope) protocol.Ack {
	topic, err := h.host.Relay.Forward(h.module, env)
	if err != nil {
		return failure(env.ReqID, err)
	}
	deviceID, _ := env.DeviceID()
	return protocol.Success(env.ReqID, protocol.CodeDispatched, map[string]any{
		"device_id": deviceID,
		"topic":     topic,
	})
}
