// Package api implements the HTTP REST API and WebSocket server for the lab
// orchestrator host.
//
// This package provides:
//   - Read endpoints for the registry snapshot, modules, and plugin UI panels
//   - POST /api/{module}/cmd, which runs an envelope through the module's lane
//   - Scheduler job inspection per module
//   - Plugin routes mounted under /api/{module}
//   - A WebSocket hub relaying registry snapshots and module acks, which
//     also accepts command frames
//   - Middleware for request IDs, access logging, panic recovery, CORS and
//     a body size cap
//
// # Architecture
//
// The API is a second ingress next to MQTT. Commands submitted here take the
// same path as commands received on /lab/orchestrator/{module}/cmd and their
// acks are published on the bus as well as returned in the HTTP response.
// The WebSocket hub subscribes to the registry and evt topics and fans them
// out to browser clients.
//
// # WebSocket frames
//
//	→ {"type":"subscribe","id":"1","payload":{"channels":["registry","evt.*"]}}
//	← {"type":"response","id":"1","payload":{"subscribed":[...]}}
//	← {"type":"event","channel":"evt.led","ts":"...","payload":{ack}}
//	→ {"type":"command","id":"2","payload":{"module":"led","action":"solid","params":{...}}}
//	← {"type":"ack","id":"2","payload":{ack}}
//
// The latest registry snapshot is replayed to each new "registry" subscriber.
package api
