package ndi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
)

// sendRequest is the body of POST /send.
type sendRequest struct {
	DeviceID string `json:"device_id"`
	Source   string `json:"source"`
	Action   string `json:"action,omitempty"`
}

// deviceView is one entry of GET /devices.
type deviceView struct {
	DeviceID     string `json:"device_id"`
	Online       bool   `json:"online"`
	Capabilities any    `json:"capabilities"`
}

// Routes mounts the plugin's REST routes.
func (p *Plugin) Routes(r chi.Router) {
	r.Get("/status", p.handleStatus)
	r.Get("/sources", p.handleSources)
	r.Get("/devices", p.handleDevices)
	r.Post("/send", p.handleSend)
}

func (p *Plugin) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, p.host.Registry.Snapshot())
}

func (p *Plugin) handleSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": p.Sources()})
}

// handleDevices lists devices whose meta advertises the ndi module.
func (p *Plugin) handleDevices(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]deviceView)
	for _, dev := range p.host.Registry.Devices() {
		if !dev.HasModule(Module) {
			continue
		}
		caps, _ := dev.Capabilities[Module].(map[string]any)
		if caps == nil {
			caps = map[string]any{}
		}
		out[dev.DeviceID] = deviceView{
			DeviceID:     dev.DeviceID,
			Online:       dev.Online,
			Capabilities: caps,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// handleSend points a device at a source. The command goes through the
// ndi lane like any other, so leases apply and the ack is published.
func (p *Plugin) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.Source == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest, "device_id and source are required")
		return
	}
	if !p.knownSource(req.Source) {
		writeError(w, http.StatusBadRequest, protocol.ErrCodeBadRequest, "unknown source")
		return
	}
	if _, err := p.host.Registry.Device(req.DeviceID); err != nil {
		writeError(w, http.StatusNotFound, protocol.ErrCodeNotFound, "unknown device")
		return
	}

	action := req.Action
	if action == "" {
		action = defaultSendAction
	}

	ack, err := p.host.Dispatcher.Submit(r.Context(), Module, protocol.Envelope{
		Actor:  sendActor,
		Action: action,
		Params: map[string]any{"device_id": req.DeviceID, "source": req.Source},
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrCodeInternal, err.Error())
		return
	}
	writeJSON(w, dispatcher.HTTPStatus(ack), ack)
}

// apiError matches the host API's error body.
type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Status: status, Code: code, Message: message})
}
