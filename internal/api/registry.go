package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lab-orchestrator-core/internal/registry"
)

// handleRegistry returns the current snapshot. It is built from memory and
// never waits on a device.
func (s *Server) handleRegistry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

// handleGetDevice returns one device from the snapshot.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.Device(id)
	if errors.Is(err, registry.ErrUnknownDevice) {
		writeNotFound(w, "device not found")
		return
	}
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleModules lists the registered module names.
func (s *Server) handleModules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"modules": s.dispatcher.Modules(),
	})
}

// handleUI returns the plugin UI descriptors.
func (s *Server) handleUI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"panels": s.dispatcher.UIDescriptors(),
	})
}
