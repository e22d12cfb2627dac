// Package ndi is the plugin for NDI receivers and recorders on lab devices.
//
// Besides the standard command protocol it serves the configured source
// list, the devices advertising the ndi module, and a POST /send shortcut
// that points a device at a source.
package ndi

import (
	"fmt"

	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
)

// Module is the plugin's module name.
const Module = "ndi"

// Actions are forwarded to devices unchanged.
var Actions = []string{"start", "stop", "set_input", "record_start", "record_stop"}

// defaultSendAction is used by POST /send when the body omits action.
const defaultSendAction = "start"

// sendActor is the actor recorded for commands issued through POST /send.
const sendActor = "api"

// Plugin handles /lab/orchestrator/ndi/cmd.
type Plugin struct {
	*dispatcher.CommandHandler
	host    *dispatcher.HostContext
	sources []string
}

// New is the ndi dispatcher.Factory. Settings:
//
//	sources: [ "studio-a (cam1)", ... ]   # optional allow-list for /send
func New(host *dispatcher.HostContext, settings map[string]any) (dispatcher.Plugin, error) {
	sources, err := parseSources(settings["sources"])
	if err != nil {
		return nil, err
	}
	return &Plugin{
		CommandHandler: dispatcher.NewCommandHandler(host, Module, Actions...),
		host:           host,
		sources:        sources,
	}, nil
}

// UI describes the NDI routing panel.
func (p *Plugin) UI() dispatcher.UIDescriptor {
	return dispatcher.UIDescriptor{
		Path:     "/ui/" + Module,
		Title:    "NDI",
		Template: "ndi.html",
	}
}

// Sources returns the configured source names.
func (p *Plugin) Sources() []string {
	return append([]string(nil), p.sources...)
}

func (p *Plugin) knownSource(name string) bool {
	if len(p.sources) == 0 {
		return true
	}
	for _, s := range p.sources {
		if s == name {
			return true
		}
	}
	return false
}

// parseSources accepts the YAML list form of the sources setting.
func parseSources(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("%w: ndi sources[%d] must be a non-empty string", protocol.ErrBadRequest, i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: ndi sources must be a list, got %T", protocol.ErrBadRequest, raw)
	}
}
