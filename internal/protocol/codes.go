package protocol

// Error codes carried in Ack.Error.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnknownAction  = "unknown_action"
	ErrCodeHeldByOther    = "held_by_other"
	ErrCodeNoLease        = "no_lease"
	ErrCodeNotFound       = "not_found"
	ErrCodeTransportError = "transport_error"
	ErrCodeBusy           = "busy"
	ErrCodeInternal       = "internal_error"
)

// Informational ack codes carried in Ack.Code.
const (
	CodeOK         = "OK"
	CodeDispatched = "DISPATCHED"
	CodeScheduled  = "SCHEDULED"
	CodeCancelled  = "CANCELLED"
	CodeReserved   = "RESERVED"
	CodeReleased   = "RELEASED"
	CodeFired      = "FIRED"
)

// Host-level actions handled by the orchestrator itself.
const (
	ActionReserve  = "reserve"
	ActionRelease  = "release"
	ActionSchedule = "schedule"
	ActionCancel   = "cancel"
)

// Version is the ack schema version carried in Ack.V.
const Version = 1

// DefaultActor is assumed when an envelope does not name one.
const DefaultActor = "app"

// IsHostAction reports whether action is handled by the host rather than a device.
func IsHostAction(action string) bool {
	switch action {
	case ActionReserve, ActionRelease, ActionSchedule, ActionCancel:
		return true
	default:
		return false
	}
}
