package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lab-orchestrator-core/internal/dispatcher"
	"github.com/nerrad567/lab-orchestrator-core/internal/scheduler"
)

// handleCommand runs an envelope through the module's lane and returns its
// ack. The body is validated like an MQTT command, but req_id may be
// omitted. The status code follows the ack's error code; the ack is also
// published on the module's evt topic.
func (s *Server) handleCommand(module string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeBadRequest(w, "reading request body: "+err.Error())
			return
		}

		ack, err := s.dispatcher.SubmitPayload(r.Context(), module, body)
		if errors.Is(err, dispatcher.ErrUnknownModule) {
			writeNotFound(w, "unknown module")
			return
		}
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
			return
		}
		writeJSON(w, dispatcher.HTTPStatus(ack), ack)
	}
}

// handleListJobs lists the module's retained jobs.
func (s *Server) handleListJobs(module string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		jobs := s.scheduler.ListByModule(module)
		if jobs == nil {
			jobs = []scheduler.Job{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	}
}

// handleGetJob returns one job. Jobs of other modules are not found.
func (s *Server) handleGetJob(module string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.scheduler.Get(chi.URLParam(r, "id"))
		if err != nil || job.Module != module {
			writeNotFound(w, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}
