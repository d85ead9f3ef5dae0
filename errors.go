package makeparallel

import (
	"errors"
	"fmt"
	"time"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────

var (
	// ErrNotReady is returned by TryGet when the task has not reached a
	// terminal state yet.
	ErrNotReady = errors.New("task result not ready")

	// ErrTimeout is the terminal cause of a task that exceeded its
	// wall-clock timeout.
	ErrTimeout = errors.New("task timed out")

	// ErrCancelled is the terminal cause of a cancelled task.
	ErrCancelled = errors.New("task was cancelled")

	// ErrShutdown is returned by all submission forms after Shutdown.
	ErrShutdown = errors.New("runtime is shut down, no new tasks accepted")

	// ErrNotInTask is returned by ReportProgress when the context does
	// not carry a task association.
	ErrNotInTask = errors.New("no task associated with this context")

	// ErrUnknownTask is returned when a progress report names a task id
	// the runtime is not tracking.
	ErrUnknownTask = errors.New("unknown task id")

	// ErrInvalidProgress is returned for NaN or infinite progress values.
	ErrInvalidProgress = errors.New("progress must be a finite number")
)

// ─── Structured Errors ──────────────────────────────────────────────────────

// TaskError wraps a task failure with its identity and timing.
// Get and OnError deliver failures through this type; errors.Is still
// matches the underlying cause via Unwrap.
type TaskError struct {
	Name    string
	ID      string
	Elapsed time.Duration
	Err     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q (%s) failed after %s: %v",
		e.Name, shortID(e.ID), e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// DependencyError reports that a dependent task was aborted because one
// of its predecessors did not complete successfully. The dependent body
// never ran.
type DependencyError struct {
	TaskID  string // the aborted dependent
	DepID   string // the predecessor that failed
	DepName string
	Err     error // the predecessor's terminal error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("task %s aborted: dependency %q (%s) failed: %v",
		shortID(e.TaskID), e.DepName, shortID(e.DepID), e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// shortID truncates a UUID for log/error readability.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
