// Package makeparallel is a concurrent task-execution runtime.
// Submit a unit of work, get back a handle for its eventual result.
//
// The runtime owns all execution state (worker pool, priority queue,
// metrics, admission limits) behind a single *Runtime value created
// with New. There are no package-level globals to initialize or reset;
// construct a Runtime, pass it around, shut it down.
//
// Three submission backends are available:
//
//   - Go: one goroutine per task, no queueing.
//   - Submit: a shared resizable FIFO worker pool.
//   - SubmitPriority: a priority queue drained by a dedicated
//     dispatch worker (higher priority first, FIFO within a level).
//
// Cancellation is cooperative: Cancel signals the task's context and
// sets a flag the body can poll; a task that never checks either runs
// to completion. Timeouts are wall-clock: the handle reaches TIMED_OUT
// at the deadline even if the body keeps running, and the body's late
// result is discarded.
package makeparallel
