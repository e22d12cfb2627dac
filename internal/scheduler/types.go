package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
)

// Kind distinguishes one-off from recurring jobs.
type Kind string

const (
	KindOnce Kind = "once"
	KindCron Kind = "cron"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending   State = "pending"
	StateFired     State = "fired"
	StateCancelled State = "cancelled"
)

// Command is one device command replayed when a job fires.
type Command struct {
	DeviceID string         `json:"device_id"`
	Action   string         `json:"action"`
	Params   map[string]any `json:"params,omitempty"`
}

// ParseCommands converts the wire form of params.commands.
func ParseCommands(raw []map[string]any) ([]Command, error) {
	if len(raw) == 0 {
		return nil, ErrNoCommands
	}

	out := make([]Command, 0, len(raw))
	for i, m := range raw {
		deviceID, _ := protocol.StringParam(m, "device_id")
		action, _ := protocol.StringParam(m, "action")
		params, err := protocol.MapParam(m, "params")
		if err != nil {
			return nil, fmt.Errorf("%w: commands[%d]: %v", ErrInvalidCommand, i, err)
		}
		cmd := Command{DeviceID: deviceID, Action: action, Params: params}
		if err := cmd.validate(); err != nil {
			return nil, fmt.Errorf("commands[%d]: %w", i, err)
		}
		out = append(out, cmd)
	}
	return out, nil
}

func (c Command) validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidCommand)
	}
	if c.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidCommand)
	}
	return nil
}

// Request describes a job to submit. Exactly one of FireAt or Cron is set.
type Request struct {
	Module   string
	Actor    string
	FireAt   time.Time
	Cron     string
	Commands []Command
}

// Job is a snapshot of a scheduled job's state.
type Job struct {
	ID          string
	Module      string
	Actor       string
	Kind        Kind
	FireAt      time.Time
	Cron        string
	Commands    []Command
	State       State
	CreatedAt   time.Time
	NextFireAt  time.Time
	LastFiredAt time.Time
	FireCount   int
}

// clone copies the job so callers never share the command slice or params.
func (j Job) clone() Job {
	cmds := make([]Command, len(j.Commands))
	for i, c := range j.Commands {
		params := make(map[string]any, len(c.Params))
		for k, v := range c.Params {
			params[k] = v
		}
		cmds[i] = Command{DeviceID: c.DeviceID, Action: c.Action, Params: params}
	}
	j.Commands = cmds
	return j
}

// jobJSON is the wire form of Job with zero times omitted.
type jobJSON struct {
	ID          string    `json:"job_id"`
	Module      string    `json:"module"`
	Actor       string    `json:"actor"`
	Kind        Kind      `json:"kind"`
	FireAt      string    `json:"at,omitempty"`
	Cron        string    `json:"cron,omitempty"`
	Commands    []Command `json:"commands"`
	State       State     `json:"state"`
	CreatedAt   string    `json:"created_at"`
	NextFireAt  string    `json:"next_fire_at,omitempty"`
	LastFiredAt string    `json:"last_fired_at,omitempty"`
	FireCount   int       `json:"fire_count"`
}

// MarshalJSON renders times in wire format.
func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{
		ID:          j.ID,
		Module:      j.Module,
		Actor:       j.Actor,
		Kind:        j.Kind,
		FireAt:      formatOptional(j.FireAt),
		Cron:        j.Cron,
		Commands:    j.Commands,
		State:       j.State,
		CreatedAt:   formatOptional(j.CreatedAt),
		NextFireAt:  formatOptional(j.NextFireAt),
		LastFiredAt: formatOptional(j.LastFiredAt),
		FireCount:   j.FireCount,
	})
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return protocol.FormatTime(t)
}
