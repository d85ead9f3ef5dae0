package makeparallel

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ─── Task Status ────────────────────────────────────────────────────────────

// TaskStatus tracks the handle lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
	TaskTimedOut  TaskStatus = "TIMED_OUT"
)

// IsTerminal returns true if the status is a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskTimedOut:
		return true
	}
	return false
}

// ─── Handle ─────────────────────────────────────────────────────────────────

// Handle is the caller's view of a submitted task. It is safe for
// concurrent use. A handle reaches exactly one terminal state; every
// later transition attempt is a no-op, so a timeout firing while the
// body completes (or the reverse) can never double-fire listeners or
// double-count metrics.
type Handle struct {
	id       string
	name     string
	priority int
	timeout  time.Duration
	created  time.Time

	rt *Runtime

	mu        sync.Mutex
	status    TaskStatus
	started   time.Time
	completed time.Time
	result    any
	err       error // enriched terminal error, nil on success
	progress  float64
	metadata  map[string]string
	cancelFn  context.CancelFunc

	onComplete []func(any)
	onError    []func(error)
	onProgress []func(float64)

	cancelled atomic.Bool
	done      chan struct{} // closed on terminal transition
}

func newHandle(rt *Runtime, name string, priority int, timeout time.Duration) *Handle {
	if name == "" {
		name = "task"
	}
	return &Handle{
		id:       uuid.NewString(),
		name:     name,
		priority: priority,
		timeout:  timeout,
		created:  time.Now(),
		rt:       rt,
		status:   TaskPending,
		done:     make(chan struct{}),
	}
}

// ID returns the unique task id.
func (h *Handle) ID() string { return h.id }

// Name returns the task name used for metrics and logging.
func (h *Handle) Name() string { return h.name }

// Priority returns the submission priority (0 for non-priority backends).
func (h *Handle) Priority() int { return h.priority }

// Timeout returns the wall-clock timeout, 0 if none.
func (h *Handle) Timeout() time.Duration { return h.timeout }

// Status returns the current lifecycle state.
func (h *Handle) Status() TaskStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// IsReady returns true once the handle has reached a terminal state.
func (h *Handle) IsReady() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether Cancel has been requested. The task may
// still be running; cancellation is cooperative.
func (h *Handle) IsCancelled() bool { return h.cancelled.Load() }

// Get blocks until the task reaches a terminal state or ctx expires.
// Failures are returned enriched as *TaskError (or *DependencyError);
// errors.Is matches the underlying cause.
func (h *Handle) Get(ctx context.Context) (any, error) {
	// An already-terminal handle answers even with an expired ctx:
	// repeated calls keep returning the cached outcome.
	if !h.IsReady() {
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// TryGet returns the result if ready, ErrNotReady otherwise.
func (h *Handle) TryGet() (any, error) {
	if !h.IsReady() {
		return nil, ErrNotReady
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Wait blocks up to d for the terminal state. Returns true if reached.
// d <= 0 waits forever.
func (h *Handle) Wait(d time.Duration) bool {
	if d <= 0 {
		<-h.done
		return true
	}
	select {
	case <-h.done:
		return true
	case <-time.After(d):
		return false
	}
}

// Err returns the terminal error, nil if completed successfully or not
// yet terminal.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Cancel requests cooperative cancellation. A task that has not started
// transitions to CANCELLED immediately; a running task has its context
// cancelled and must observe it (or IsCancelled) to stop.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)

	h.mu.Lock()
	if h.status.IsTerminal() {
		h.mu.Unlock()
		return
	}
	if h.status == TaskRunning {
		cancelFn := h.cancelFn
		h.mu.Unlock()
		if cancelFn != nil {
			cancelFn()
		}
		return
	}
	h.mu.Unlock()

	// Pending: transition directly. If the body won the start race in
	// the meantime, its context was set; cancel it too so a
	// cooperative body stops instead of running to a dropped result.
	if h.finish(TaskCancelled, nil, ErrCancelled) {
		h.mu.Lock()
		cancelFn := h.cancelFn
		h.mu.Unlock()
		if cancelFn != nil {
			cancelFn()
		}
	}
}

// CancelWithTimeout cancels and waits up to d for the terminal state.
// Returns true if the task terminated within d.
func (h *Handle) CancelWithTimeout(d time.Duration) bool {
	h.Cancel()
	return h.Wait(d)
}

// ElapsedTime returns time since the task started running (0 if it
// never started), frozen at the terminal transition.
func (h *Handle) ElapsedTime() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started.IsZero() {
		return 0
	}
	if !h.completed.IsZero() {
		return h.completed.Sub(h.started)
	}
	return time.Since(h.started)
}

// Progress returns the last reported progress fraction in [0, 1].
func (h *Handle) Progress() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// ─── Metadata ───────────────────────────────────────────────────────────────

// SetMetadata attaches a key-value pair to the handle.
func (h *Handle) SetMetadata(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.metadata == nil {
		h.metadata = make(map[string]string)
	}
	h.metadata[key] = value
}

// Metadata looks up a single metadata value.
func (h *Handle) Metadata(key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.metadata[key]
	return v, ok
}

// AllMetadata returns a copy of the metadata map.
func (h *Handle) AllMetadata() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string, len(h.metadata))
	for k, v := range h.metadata {
		out[k] = v
	}
	return out
}

// ─── Listeners ──────────────────────────────────────────────────────────────
// Exactly one of the complete/error families fires per handle, after
// the terminal transition. Registration after the terminal state
// replays immediately (check-and-replay), so listeners are never lost
// to a registration race.

// OnComplete registers a listener for successful completion.
func (h *Handle) OnComplete(fn func(result any)) {
	h.mu.Lock()
	if h.status.IsTerminal() {
		status, result := h.status, h.result
		h.mu.Unlock()
		if status == TaskCompleted {
			go h.invoke(func() { fn(result) })
		}
		return
	}
	h.onComplete = append(h.onComplete, fn)
	h.mu.Unlock()
}

// OnError registers a listener for any failure terminal state
// (FAILED, CANCELLED, TIMED_OUT). It receives the enriched cause.
func (h *Handle) OnError(fn func(err error)) {
	h.mu.Lock()
	if h.status.IsTerminal() {
		err := h.err
		h.mu.Unlock()
		if err != nil {
			go h.invoke(func() { fn(err) })
		}
		return
	}
	h.onError = append(h.onError, fn)
	h.mu.Unlock()
}

// OnProgress registers a listener fired on every accepted progress
// report, in non-decreasing order.
func (h *Handle) OnProgress(fn func(fraction float64)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onProgress = append(h.onProgress, fn)
}

// invoke runs a listener with panic isolation. A panicking listener is
// logged and never takes down the handle or its backend.
func (h *Handle) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil && h.rt != nil {
			h.rt.logger.Warn("task listener panicked",
				zap.String("task_id", shortID(h.id)),
				zap.String("task_name", h.name),
				zap.Any("panic", r))
		}
	}()
	fn()
}

// ─── Transitions ────────────────────────────────────────────────────────────

// markRunning transitions PENDING → RUNNING. Returns false if the
// handle already reached a terminal state (e.g. cancelled before start).
func (h *Handle) markRunning(cancelFn context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != TaskPending {
		return false
	}
	h.status = TaskRunning
	h.started = time.Now()
	h.cancelFn = cancelFn
	return true
}

// finish performs the single terminal transition. Returns false if the
// handle was already terminal (the attempt is discarded). Listeners
// fire asynchronously, in registration order within the handle.
func (h *Handle) finish(status TaskStatus, result any, cause error) bool {
	h.mu.Lock()
	if h.status.IsTerminal() {
		h.mu.Unlock()
		return false
	}
	h.status = status
	h.completed = time.Now()
	h.result = result
	h.err = h.enrich(status, cause)

	err := h.err
	completeFns := h.onComplete
	errorFns := h.onError
	h.onComplete, h.onError, h.onProgress = nil, nil, nil
	close(h.done)
	h.mu.Unlock()

	if h.rt != nil {
		h.rt.taskFinished(h)
	}

	if err == nil {
		if len(completeFns) > 0 {
			go func() {
				for _, fn := range completeFns {
					fn := fn
					h.invoke(func() { fn(result) })
				}
			}()
		}
	} else if len(errorFns) > 0 {
		go func() {
			for _, fn := range errorFns {
				fn := fn
				h.invoke(func() { fn(err) })
			}
		}()
	}
	return true
}

// enrich wraps a terminal failure with task identity. Must be called
// with h.mu held (reads h.started/h.completed).
func (h *Handle) enrich(status TaskStatus, cause error) error {
	if status == TaskCompleted {
		return nil
	}
	if cause == nil {
		cause = errors.New("task failed")
	}
	var te *TaskError
	var de *DependencyError
	if errors.As(cause, &te) || errors.As(cause, &de) {
		return cause // already enriched
	}
	elapsed := time.Duration(0)
	if !h.started.IsZero() {
		elapsed = h.completed.Sub(h.started)
	}
	return &TaskError{Name: h.name, ID: h.id, Elapsed: elapsed, Err: cause}
}

// reportProgress validates and records a progress report. NaN/Inf are
// rejected; finite values are clamped to [0, 1]; regressions below the
// current fraction are ignored so observed progress never decreases.
// Re-reporting the current fraction still fires listeners, one firing
// per accepted report.
func (h *Handle) reportProgress(fraction float64) error {
	if math.IsNaN(fraction) || math.IsInf(fraction, 0) {
		return ErrInvalidProgress
	}
	fraction = math.Min(1, math.Max(0, fraction))

	h.mu.Lock()
	if h.status.IsTerminal() || fraction < h.progress {
		h.mu.Unlock()
		return nil
	}
	h.progress = fraction
	listeners := make([]func(float64), len(h.onProgress))
	copy(listeners, h.onProgress)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn := fn
		h.invoke(func() { fn(fraction) })
	}
	return nil
}
