// Package registry holds the live device map and the lease table.
//
// Devices are built by merging the retained meta and status messages device
// agents publish. Meta merges are additive; status replaces the previous
// status wholesale. Nothing is ever deleted: a device that goes quiet keeps
// its last record and its timestamps go stale.
//
// Leases give one actor exclusive, time-bounded use of a resource key
// ("{module}:{device_id}"). Expiry is passive: every read treats a lease past
// its expiry as absent, so correctness never depends on Sweep having run.
//
// Every accepted mutation publishes a fresh snapshot, retained, on
// /lab/orchestrator/registry. Snapshots are taken inside the same critical
// section as the mutation, so a snapshot never mixes device state and lease
// state from different instants.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
package registry
