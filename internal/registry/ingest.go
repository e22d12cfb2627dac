package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
)

// IngestFilters are the device topics HandleDeviceMessage understands.
func IngestFilters() []string {
	t := mqtt.Topics{}
	return []string{t.AllDeviceMeta(), t.AllDeviceStatus(), t.AllDeviceModuleStatus()}
}

// HandleDeviceMessage merges a retained device message into the registry.
// It is an mqtt.MessageHandler for the IngestFilters topics.
//
// The device ID always comes from the topic; a device_id in the payload
// that disagrees is ignored. An empty payload (a cleared retained message)
// is skipped.
func (r *Registry) HandleDeviceMessage(topic string, payload []byte) error {
	dt, ok := mqtt.ParseDeviceTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unrecognised topic %q", ErrInvalidDevice, topic)
	}
	if len(payload) == 0 {
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("%w: %s: %v", protocol.ErrBadRequest, topic, err)
	}
	if body == nil {
		return nil
	}

	if claimed, ok := body["device_id"].(string); ok && claimed != dt.DeviceID {
		r.logger.Warn("device_id in payload disagrees with topic",
			"topic", topic, "payload_device_id", claimed)
	}

	ts := messageTime(body)

	switch {
	case dt.Module == "" && dt.Kind == mqtt.KindMeta:
		return r.MergeMeta(dt.DeviceID, body, ts)
	case dt.Module == "" && dt.Kind == mqtt.KindStatus:
		return r.MergeStatus(dt.DeviceID, body, ts)
	case dt.Module != "" && dt.Kind == mqtt.KindStatus:
		return r.MergeModuleStatus(dt.DeviceID, dt.Module, body, ts)
	default:
		return fmt.Errorf("%w: unsupported device topic %q", protocol.ErrBadRequest, topic)
	}
}

// messageTime uses the payload's ts when it parses, otherwise zero (now).
func messageTime(body map[string]any) time.Time {
	s, ok := body["ts"].(string)
	if !ok {
		return time.Time{}
	}
	t, err := protocol.ParseTime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
