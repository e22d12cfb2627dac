package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the lab namespace.
//
// Device topics:       /lab/device/{device_id}/{kind}
// Device module topics: /lab/device/{device_id}/{module}/{kind}
// Orchestrator topics: /lab/orchestrator/{module}/{kind}
const (
	// TopicPrefixLab is the root of every topic the host uses.
	TopicPrefixLab = "/lab"

	// TopicPrefixDevice is the base for topics owned by device agents.
	TopicPrefixDevice = "/lab/device"

	// TopicPrefixOrchestrator is the base for topics owned by the host.
	TopicPrefixOrchestrator = "/lab/orchestrator"
)

// Topic kinds (the final level of a device or orchestrator topic).
const (
	KindMeta    = "meta"
	KindStatus  = "status"
	KindCommand = "cmd"
	KindConfig  = "cfg"
	KindEvent   = "evt"
)

// Topics provides builders for lab MQTT topics.
// Using these helpers keeps every component on the same namespace.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceModuleCommand("pi-01", "led")
//	// Returns: "/lab/device/pi-01/led/cmd"
type Topics struct{}

// =============================================================================
// Device Topics (device -> host unless noted)
// =============================================================================

// DeviceMeta returns the retained meta topic for a device.
//
// Example: /lab/device/pi-01/meta
func (Topics) DeviceMeta(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevice, deviceID, KindMeta)
}

// DeviceStatus returns the retained heartbeat/status topic for a device.
//
// Example: /lab/device/pi-01/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevice, deviceID, KindStatus)
}

// DeviceModuleCommand returns the host->device command topic for a module.
//
// Example: /lab/device/pi-01/ndi/cmd
func (Topics) DeviceModuleCommand(deviceID, module string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixDevice, deviceID, module, KindCommand)
}

// DeviceModuleConfig returns the host->device configuration topic for a module.
//
// Example: /lab/device/pi-01/ndi/cfg
func (Topics) DeviceModuleConfig(deviceID, module string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixDevice, deviceID, module, KindConfig)
}

// DeviceModuleStatus returns the retained module status topic.
//
// Example: /lab/device/pi-01/ndi/status
func (Topics) DeviceModuleStatus(deviceID, module string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixDevice, deviceID, module, KindStatus)
}

// DeviceModuleEvent returns the device's own ack/event topic for a module.
//
// Example: /lab/device/pi-01/ndi/evt
func (Topics) DeviceModuleEvent(deviceID, module string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixDevice, deviceID, module, KindEvent)
}

// =============================================================================
// Orchestrator Topics
// =============================================================================

// OrchestratorCommand returns the caller->host command topic for a module.
//
// Example: /lab/orchestrator/led/cmd
func (Topics) OrchestratorCommand(module string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixOrchestrator, module, KindCommand)
}

// OrchestratorEvent returns the host->caller ack topic for a module.
//
// Example: /lab/orchestrator/led/evt
func (Topics) OrchestratorEvent(module string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixOrchestrator, module, KindEvent)
}

// Registry returns the retained registry snapshot topic.
func (Topics) Registry() string {
	return TopicPrefixOrchestrator + "/registry"
}

// HostStatus returns the retained host liveness topic (also the LWT topic).
func (Topics) HostStatus() string {
	return TopicPrefixOrchestrator + "/status"
}

// =============================================================================
// Wildcard Patterns (for subscriptions)
// =============================================================================

// AllDeviceMeta returns a pattern matching every device meta topic.
func (Topics) AllDeviceMeta() string {
	return TopicPrefixDevice + "/+/" + KindMeta
}

// AllDeviceStatus returns a pattern matching every device heartbeat topic.
func (Topics) AllDeviceStatus() string {
	return TopicPrefixDevice + "/+/" + KindStatus
}

// AllDeviceModuleStatus returns a pattern matching every module status topic.
func (Topics) AllDeviceModuleStatus() string {
	return TopicPrefixDevice + "/+/+/" + KindStatus
}

// AllDeviceModuleEvents returns a pattern matching every device-side ack topic.
func (Topics) AllDeviceModuleEvents() string {
	return TopicPrefixDevice + "/+/+/" + KindEvent
}

// AllOrchestratorEvents returns a pattern matching every host ack topic.
func (Topics) AllOrchestratorEvents() string {
	return TopicPrefixOrchestrator + "/+/" + KindEvent
}

// =============================================================================
// Parsing
// =============================================================================

// DeviceTopic is the decomposed form of a /lab/device/... topic.
// Module is empty for device-level topics (meta, status).
type DeviceTopic struct {
	DeviceID string
	Module   string
	Kind     string
}

// ParseDeviceTopic splits a device topic into its parts.
//
// Example:
//
//	ParseDeviceTopic("/lab/device/pi-01/meta")       // {pi-01, "", meta}, true
//	ParseDeviceTopic("/lab/device/pi-01/ndi/status") // {pi-01, ndi, status}, true
func ParseDeviceTopic(topic string) (DeviceTopic, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixDevice+levelSeparator)
	if !ok {
		return DeviceTopic{}, false
	}

	parts := strings.Split(rest, levelSeparator)
	for _, p := range parts {
		if p == "" {
			return DeviceTopic{}, false
		}
	}

	switch len(parts) {
	case 2:
		return DeviceTopic{DeviceID: parts[0], Kind: parts[1]}, true
	case 3:
		return DeviceTopic{DeviceID: parts[0], Module: parts[1], Kind: parts[2]}, true
	default:
		return DeviceTopic{}, false
	}
}

// ParseOrchestratorTopic extracts module and kind from /lab/orchestrator/{module}/{kind}.
func ParseOrchestratorTopic(topic string) (module, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixOrchestrator+levelSeparator)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, levelSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
