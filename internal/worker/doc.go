// Package worker provides a bounded worker pool for handing work off the
// MQTT delivery goroutine.
//
// Submit never blocks: when the queue is full it returns ErrQueueFull and the
// caller decides what to do (the dispatcher answers with a busy ack). A pool
// with one worker processes items strictly in submission order, which is how
// the dispatcher keeps each module's commands sequential.
package worker
