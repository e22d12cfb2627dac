// Package dispatcher routes command envelopes to plugins and answers each
// with exactly one ack.
//
// Every plugin owns a module name and a set of topic filters. Messages on
// those filters are handed off the MQTT delivery goroutine onto the
// module's lane, a single-worker queue, so a module sees its commands in
// arrival order while different modules run concurrently. A slow or
// panicking plugin never affects another module.
//
// Actions fall into two classes:
//   - host-level (reserve, release, schedule, cancel) are answered against
//     the registry and scheduler and never reach a device;
//   - pass-through actions are forwarded verbatim to
//     /lab/device/{id}/{module}/cmd after a lease check.
//
// CommandHandler implements both classes; plugins embed it and declare
// their pass-through action set.
//
// Acks are published on /lab/orchestrator/{module}/evt. A DISPATCHED ack
// means "accepted for relay"; the device's own completion ack arrives later
// on its own evt topic.
package dispatcher
