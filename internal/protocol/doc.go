// Package protocol defines the messages exchanged on the lab bus.
//
// Every component speaks the same four shapes:
//   - Envelope: a command {req_id, actor, ts, action, params}
//   - Ack: the single reply to an envelope {req_id, ok, ts, error, details}
//   - ModuleStatus: a device module's retained state {state, online, ts, fields}
//   - Snapshot: the registry view {devices, locks, modules, ts}
//
// Timestamps are RFC 3339 in UTC with second precision ("2024-05-01T12:00:00Z").
//
// Failures are reported in-band as acks with ok=false and one of the error
// codes below; they never surface as process-level errors.
package protocol
