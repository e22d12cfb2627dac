package protocol

// ModuleStatus is the retained state a device publishes per module.
type ModuleStatus struct {
	State  string         `json:"state"`
	Online bool           `json:"online"`
	TS     string         `json:"ts"`
	Fields map[string]any `json:"fields"`
}

// ModuleStatusFromPayload reads a module status leniently. Keys other than
// state, online, ts and fields are folded into Fields.
func ModuleStatusFromPayload(payload map[string]any) ModuleStatus {
	st := ModuleStatus{Online: true, Fields: map[string]any{}}

	if v, ok := payload["state"].(string); ok {
		st.State = v
	}
	if v, ok := payload["online"].(bool); ok {
		st.Online = v
	}
	if v, ok := payload["ts"].(string); ok {
		st.TS = v
	}
	if f, ok := payload["fields"].(map[string]any); ok {
		for k, v := range f {
			st.Fields[k] = v
		}
	}
	for k, v := range payload {
		switch k {
		case "state", "online", "ts", "fields":
			continue
		}
		st.Fields[k] = v
	}
	return st
}

// Device is the wire form of a registry device record.
type Device struct {
	DeviceID           string                  `json:"device_id"`
	Labels             []string                `json:"labels"`
	Modules            []string                `json:"modules"`
	Capabilities       map[string]any          `json:"capabilities"`
	Online             bool                    `json:"online"`
	Meta               map[string]any          `json:"meta"`
	Status             map[string]any          `json:"status"`
	ModuleStatus       map[string]ModuleStatus `json:"module_status"`
	LastMetaTS         string                  `json:"last_meta_ts,omitempty"`
	LastStatusTS       string                  `json:"last_status_ts,omitempty"`
	LastModuleStatusTS string                  `json:"last_module_status_ts,omitempty"`
}

// HasModule reports whether the device advertises the named module.
func (d Device) HasModule(module string) bool {
	for _, m := range d.Modules {
		if m == module {
			return true
		}
	}
	return false
}

// Lock is the wire form of a live lease.
type Lock struct {
	Holder    string `json:"holder"`
	ExpiresAt string `json:"expires_at"`
}

// Snapshot is a consistent point-in-time view of the registry.
type Snapshot struct {
	Devices map[string]Device `json:"devices"`
	Locks   map[string]Lock   `json:"locks"`
	Modules []string          `json:"modules"`
	TS      string            `json:"ts"`
}
