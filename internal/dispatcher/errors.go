package dispatcher

import (
	"errors"
	"net/http"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
	"github.com/nerrad567/lab-orchestrator-core/internal/registry"
	"github.com/nerrad567/lab-orchestrator-core/internal/scheduler"
	"github.com/nerrad567/lab-orchestrator-core/internal/worker"
)

// Domain errors for the dispatcher package.
var (
	// ErrDuplicateModule is returned when two plugins claim the same module name.
	ErrDuplicateModule = errors.New("dispatcher: duplicate module")

	// ErrUnknownModule is returned when no plugin is registered for a module.
	ErrUnknownModule = errors.New("dispatcher: unknown module")

	// ErrUnknownPlugin is returned when configuration names a plugin with no factory.
	ErrUnknownPlugin = errors.New("dispatcher: unknown plugin")

	// ErrUnknownAction is returned for actions a plugin does not handle.
	ErrUnknownAction = errors.New("dispatcher: unknown action")

	// ErrTransport wraps publish failures while relaying.
	ErrTransport = errors.New("dispatcher: transport error")
)

// errorCode maps a domain error onto the wire error taxonomy.
func errorCode(err error) string {
	switch {
	case errors.Is(err, registry.ErrHeldByOther):
		return protocol.ErrCodeHeldByOther
	case errors.Is(err, registry.ErrNoLease):
		return protocol.ErrCodeNoLease
	case errors.Is(err, scheduler.ErrJobNotFound):
		return protocol.ErrCodeNotFound
	case errors.Is(err, ErrUnknownAction):
		return protocol.ErrCodeUnknownAction
	case errors.Is(err, worker.ErrQueueFull):
		return protocol.ErrCodeBusy
	case errors.Is(err, ErrTransport),
		errors.Is(err, mqtt.ErrNotConnected),
		errors.Is(err, mqtt.ErrPublishFailed):
		return protocol.ErrCodeTransportError
	case errors.Is(err, protocol.ErrBadRequest),
		errors.Is(err, registry.ErrInvalidKey),
		errors.Is(err, registry.ErrInvalidLease),
		errors.Is(err, registry.ErrInvalidDevice),
		errors.Is(err, scheduler.ErrInvalidCron),
		errors.Is(err, scheduler.ErrInvalidTrigger),
		errors.Is(err, scheduler.ErrNoCommands),
		errors.Is(err, scheduler.ErrInvalidCommand):
		return protocol.ErrCodeBadRequest
	default:
		return protocol.ErrCodeInternal
	}
}

// failure builds the ack for err.
func failure(reqID string, err error) protocol.Ack {
	return protocol.Failure(reqID, errorCode(err), err.Error())
}

// HTTPStatus maps an ack onto the status code REST callers receive.
func HTTPStatus(ack protocol.Ack) int {
	if ack.OK {
		return http.StatusOK
	}
	switch ack.ErrorCode() {
	case protocol.ErrCodeBadRequest, protocol.ErrCodeUnknownAction:
		return http.StatusBadRequest
	case protocol.ErrCodeNotFound:
		return http.StatusNotFound
	case protocol.ErrCodeHeldByOther, protocol.ErrCodeNoLease:
		return http.StatusConflict
	case protocol.ErrCodeBusy:
		return http.StatusServiceUnavailable
	case protocol.ErrCodeTransportError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
