// Package plugins collects the built-in module plugins for the host.
//
// Each sub-package provides a dispatcher.Factory. Builtin returns them keyed
// by the module names used in configuration.
package plugins

import (
	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
	"github.com/nerrad567/lab-orchestrator-core/internal/plugins/led"
	"github.com/nerrad567/lab-orchestrator-core/internal/plugins/ndi"
)

// Builtin returns the factory table for every plugin compiled into the host.
func Builtin() dispatcher.Factories {
	return dispatcher.Factories{
		led.Module: led.New,
		ndi.Module: ndi.New,
	}
}
