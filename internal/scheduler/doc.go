// Package scheduler runs deferred and recurring command batches.
//
// A job is either a one-off (fire once at an instant) or a cron job (fire at
// every matching minute of a standard five-field expression). Each fire
// hands the job's ordered command list to an Executor, which replays it
// through the same relay path as live traffic. Jobs do not depend on the
// submitter staying connected.
//
// Guarantees:
//   - A one-off job fires exactly once and is then inert.
//   - Two runs of the same cron job never overlap. Ticks that pass while a
//     batch is still running are coalesced into the next future tick.
//   - Cancel stops future fires. A batch already running completes.
//   - Cron expressions are validated when the job is submitted.
//
// Nothing is persisted: jobs live for the life of the process.
package scheduler
