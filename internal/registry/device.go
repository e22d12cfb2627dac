package registry

import (
	"fmt"
	"time"

	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
)

// record is the registry's private device state.
type record struct {
	meta         map[string]any
	status       map[string]any
	online       bool
	moduleStatus map[string]protocol.ModuleStatus

	lastMetaTS         time.Time
	lastStatusTS       time.Time
	lastModuleStatusTS time.Time
}

func newRecord() *record {
	return &record{
		meta:         map[string]any{},
		status:       map[string]any{},
		moduleStatus: map[string]protocol.ModuleStatus{},
	}
}

// toWire returns an independent copy in wire form.
func (rec *record) toWire(id string) protocol.Device {
	d := protocol.Device{
		DeviceID:     id,
		Labels:       stringList(rec.meta["labels"]),
		Modules:      stringList(rec.meta["modules"]),
		Capabilities: map[string]any{},
		Online:       rec.online,
		Meta:         deepCopyMap(rec.meta),
		Status:       deepCopyMap(rec.status),
		ModuleStatus: make(map[string]protocol.ModuleStatus, len(rec.moduleStatus)),
	}
	if caps, ok := rec.meta["capabilities"].(map[string]any); ok {
		d.Capabilities = deepCopyMap(caps)
	}
	for name, st := range rec.moduleStatus {
		st.Fields = deepCopyMap(st.Fields)
		d.ModuleStatus[name] = st
	}
	if !rec.lastMetaTS.IsZero() {
		d.LastMetaTS = protocol.FormatTime(rec.lastMetaTS)
	}
	if !rec.lastStatusTS.IsZero() {
		d.LastStatusTS = protocol.FormatTime(rec.lastStatusTS)
	}
	if !rec.lastModuleStatusTS.IsZero() {
		d.LastModuleStatusTS = protocol.FormatTime(rec.lastModuleStatusTS)
	}
	return d
}

// MergeMeta inserts or updates a device from a meta message. Top-level keys
// in payload overwrite their previous values; keys it omits are kept.
// A zero ts means "now".
func (r *Registry) MergeMeta(id string, payload map[string]any, ts time.Time) error {
	if id == "" {
		return ErrInvalidDevice
	}

	r.mu.Lock()
	rec := r.recordLocked(id)
	for k, v := range payload {
		if k == "device_id" {
			continue
		}
		rec.meta[k] = deepCopyValue(v)
	}
	rec.lastMetaTS = r.stamp(ts)
	seq, snap := r.commitLocked()
	r.mu.Unlock()

	r.publish(seq, snap)
	return nil
}

// MergeStatus replaces a device's status with payload. online is taken from
// the payload and defaults to true when absent.
func (r *Registry) MergeStatus(id string, payload map[string]any, ts time.Time) error {
	if id == "" {
		return ErrInvalidDevice
	}

	online := true
	if v, ok := payload["online"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return fmt.Errorf("%w: online must be a boolean", protocol.ErrBadRequest)
		}
		online = b
	}

	r.mu.Lock()
	rec := r.recordLocked(id)
	rec.status = deepCopyMap(payload)
	delete(rec.status, "device_id")
	rec.online = online
	rec.lastStatusTS = r.stamp(ts)
	seq, snap := r.commitLocked()
	r.mu.Unlock()

	r.publish(seq, snap)
	return nil
}

// MergeModuleStatus replaces one module's status block on a device.
func (r *Registry) MergeModuleStatus(id, module string, payload map[string]any, ts time.Time) error {
	if id == "" {
		return ErrInvalidDevice
	}
	if module == "" {
		return fmt.Errorf("%w: empty module", protocol.ErrBadRequest)
	}

	st := protocol.ModuleStatusFromPayload(deepCopyMap(payload))

	r.mu.Lock()
	rec := r.recordLocked(id)
	rec.moduleStatus[module] = st
	rec.lastModuleStatusTS = r.stamp(ts)
	seq, snap := r.commitLocked()
	r.mu.Unlock()

	r.publish(seq, snap)
	return nil
}

// recordLocked returns the record for id, creating it on first sight.
func (r *Registry) recordLocked(id string) *record {
	rec, ok := r.devices[id]
	if !ok {
		rec = newRecord()
		r.devices[id] = rec
		r.logger.Info("device discovered", "device_id", id)
	}
	return rec
}

func (r *Registry) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return r.now()
	}
	return ts
}

// stringList reads a JSON array of strings, ignoring non-string elements.
func stringList(v any) []string {
	out := []string{}
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, list...)
	}
	return out
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
