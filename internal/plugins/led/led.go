// Package led is the plugin for addressable LED strips driven by lab
// devices. It forwards lighting actions and serves a status route.
package led

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
)

// Module is the plugin's module name.
const Module = "led"

// Actions are forwarded to devices unchanged.
var Actions = []string{"effect", "solid", "off", "brightness"}

// Plugin handles /lab/orchestrator/led/cmd.
type Plugin struct {
	*dispatcher.CommandHandler
	host *dispatcher.HostContext
}

// New is the led dispatcher.Factory. The plugin takes no settings.
func New(host *dispatcher.HostContext, _ map[string]any) (dispatcher.Plugin, error) {
	return &Plugin{
		CommandHandler: dispatcher.NewCommandHandler(host, Module, Actions...),
		host:           host,
	}, nil
}

// Routes mounts GET /status.
func (p *Plugin) Routes(r chi.Router) {
	r.Get("/status", p.handleStatus)
}

// UI describes the generic plugin panel.
func (p *Plugin) UI() dispatcher.UIDescriptor {
	return dispatcher.UIDescriptor{
		Path:     "/ui/" + Module,
		Title:    "LED",
		Template: "plugin_shell.html",
	}
}

func (p *Plugin) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	//nolint:errcheck // Best-effort write to response; connection may be closed
	json.NewEncoder(w).Encode(p.host.Registry.Snapshot())
}
