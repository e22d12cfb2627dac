// Package mqtt provides the host's broker transport.
//
// This package manages:
//   - One persistent connection to the broker with auto-reconnect
//   - Filter-based subscriptions with + and # wildcards
//   - Re-issuing every subscription after each reconnect
//   - JSON publishing, retained where the topic carries state
//   - Last Will and Testament on /lab/orchestrator/status (host clients only;
//     ConnectEphemeral skips it for tools)
//
// # Architecture
//
// Device agents publish retained meta and status; callers publish command
// envelopes; the host publishes acks, relayed commands and the registry
// snapshot. Everything travels through a single Client:
//
//	device agents ↔ broker ↔ Client ↔ registry / dispatcher
//
// Inbound messages are routed inside the client: each topic is matched
// against every registered filter and all matching handlers run, in order of
// arrival, on the delivery goroutine.
//
// # Failure Semantics
//
//   - Publish while disconnected returns ErrNotConnected at once
//   - Non-retained messages published by others during an outage are lost
//   - Retained topics repopulate the host's view after reconnecting
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.OrchestratorCommand("led"), 1, handler)
//	err = client.PublishJSON(mqtt.Topics{}.Registry(), snapshot, true)
package mqtt
