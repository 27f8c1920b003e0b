// Package taskqueue runs tasks one at a time in FIFO order.
//
// A Scheduler decides when the next task runs: right away, on a goroutine,
// after a timer. The queue calls the scheduler once per task and never runs
// two tasks at the same time. Tasks passed to a single Enqueue call form a
// chain: each receives the previous one's result, the first error skips the
// rest, and the chain's Result settles with the last value or that error.
//
// An Enqueue made from inside a running task, with the context the task
// received, goes to the front of the queue: such chains run right after the
// current step, in the order they were enqueued, and before the next step
// of the chain that enqueued them. No other work runs between the steps
// of a chain.
package taskqueue
