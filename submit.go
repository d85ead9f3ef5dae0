package makeparallel

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// TaskFunc is a unit of work. The context carries the task association
// for ReportProgress and is cancelled on Cancel or timeout; cooperative
// bodies observe ctx.Done().
type TaskFunc func(ctx context.Context) (any, error)

// DepFunc is a dependent unit of work. results holds the predecessor
// results in submission order.
type DepFunc func(ctx context.Context, results []any) (any, error)

// ─── Task Options ───────────────────────────────────────────────────────────

type taskOptions struct {
	name     string
	timeout  time.Duration
	metadata map[string]string
}

// TaskOption configures a single submission.
type TaskOption func(*taskOptions)

// WithName sets the task name used for metrics, history and logging.
func WithName(name string) TaskOption {
	return func(o *taskOptions) { o.name = name }
}

// WithTimeout sets a wall-clock deadline. The handle reaches TIMED_OUT
// when it expires even if the body keeps running.
func WithTimeout(d time.Duration) TaskOption {
	return func(o *taskOptions) { o.timeout = d }
}

// WithTaskMetadata seeds the handle's metadata map.
func WithTaskMetadata(md map[string]string) TaskOption {
	return func(o *taskOptions) { o.metadata = md }
}

func buildOptions(opts []TaskOption) taskOptions {
	var o taskOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ─── Submission Forms ───────────────────────────────────────────────────────

// Go runs fn on its own goroutine with no queueing beyond the admission
// limit.
func (rt *Runtime) Go(fn TaskFunc, opts ...TaskOption) (*Handle, error) {
	h, err := rt.newTask(opts, 0)
	if err != nil {
		return nil, err
	}
	if err := rt.register(h, "go"); err != nil {
		return nil, err
	}
	go rt.execute(h, fn)
	return h, nil
}

// Submit runs fn on the shared FIFO worker pool.
func (rt *Runtime) Submit(fn TaskFunc, opts ...TaskOption) (*Handle, error) {
	h, err := rt.newTask(opts, 0)
	if err != nil {
		return nil, err
	}
	if err := rt.register(h, "pool"); err != nil {
		return nil, err
	}
	if !rt.pool.Submit(func() { rt.execute(h, fn) }) {
		// Close raced the enqueue after registration: settle the handle
		// so the in-flight count drains.
		h.finish(TaskCancelled, nil, ErrShutdown)
		return nil, ErrShutdown
	}
	return h, nil
}

// SubmitPriority queues fn on the priority backend. Higher priority
// dispatches first; equal priorities dispatch FIFO. Nothing dispatches
// until StartPriorityWorker.
func (rt *Runtime) SubmitPriority(fn TaskFunc, priority int, opts ...TaskOption) (*Handle, error) {
	h, err := rt.newTask(opts, priority)
	if err != nil {
		return nil, err
	}
	if err := rt.register(h, "priority"); err != nil {
		return nil, err
	}
	rt.prio.Submit(priority, func() { rt.execute(h, fn) })
	return h, nil
}

// After runs fn once every handle in deps reaches a terminal state.
// Predecessor results arrive in deps order. If any predecessor fails,
// is cancelled or times out, the dependent fails with a
// *DependencyError and fn never runs. Dependency graphs may be any
// DAG: chains, fan-in, fan-out, diamonds.
func (rt *Runtime) After(deps []*Handle, fn DepFunc, opts ...TaskOption) (*Handle, error) {
	h, err := rt.newTask(opts, 0)
	if err != nil {
		return nil, err
	}
	if err := rt.register(h, "deps"); err != nil {
		return nil, err
	}

	go func() {
		results := make([]any, len(deps))
		for i, dep := range deps {
			select {
			case <-dep.done:
			case <-h.done:
				// Cancelled while waiting on predecessors.
				return
			}
			if derr := dep.Err(); derr != nil {
				h.finish(TaskFailed, nil, &DependencyError{
					TaskID:  h.id,
					DepID:   dep.id,
					DepName: dep.name,
					Err:     derr,
				})
				return
			}
			results[i], _ = dep.TryGet()
		}
		rt.execute(h, func(ctx context.Context) (any, error) {
			return fn(ctx, results)
		})
	}()
	return h, nil
}

func (rt *Runtime) newTask(opts []TaskOption, priority int) (*Handle, error) {
	o := buildOptions(opts)
	h := newHandle(rt, o.name, priority, o.timeout)
	for k, v := range o.metadata {
		h.SetMetadata(k, v)
	}
	return h, nil
}

// ─── Execution ──────────────────────────────────────────────────────────────

// execute drives a handle through its lifecycle on the calling
// goroutine (the backend's worker or a dedicated goroutine).
func (rt *Runtime) execute(h *Handle, fn TaskFunc) {
	if h.IsReady() {
		return // cancelled before dispatch
	}
	if h.cancelled.Load() {
		h.finish(TaskCancelled, nil, ErrCancelled)
		return
	}
	if !rt.acquireSlot(h) {
		return
	}
	defer rt.releaseSlot()

	ctx, cancel := context.WithCancel(withTaskID(context.Background(), h.id))
	defer cancel()

	if !h.markRunning(cancel) {
		return
	}
	rt.logger.Debug("task started",
		zap.String("task_id", shortID(h.id)),
		zap.String("task_name", h.name))

	if h.timeout > 0 {
		timer := time.AfterFunc(h.timeout, func() {
			if h.finish(TaskTimedOut, nil, ErrTimeout) {
				cancel() // nudge a cooperative body to stop
			}
		})
		defer timer.Stop()
	}

	result, err := runBody(ctx, fn)

	switch {
	case err == nil:
		h.finish(TaskCompleted, result, nil)
	case h.cancelled.Load() && (errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)):
		h.finish(TaskCancelled, nil, ErrCancelled)
	default:
		h.finish(TaskFailed, nil, err)
	}
}

// runBody executes the task body with panic isolation.
func runBody(ctx context.Context, fn TaskFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// ─── Fan-Out Helper ─────────────────────────────────────────────────────────

// Map fans items out over rt's shared pool and collects the results in
// input order. The first failure cancels the remaining work and is
// returned enriched.
func Map[T, R any](ctx context.Context, rt *Runtime, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	handles := make([]*Handle, len(items))
	for i, item := range items {
		item := item
		h, err := rt.Submit(func(ctx context.Context) (any, error) {
			return fn(ctx, item)
		})
		if err != nil {
			for _, prev := range handles[:i] {
				prev.Cancel()
			}
			return nil, err
		}
		handles[i] = h
	}

	out := make([]R, len(items))
	for i, h := range handles {
		v, err := h.Get(ctx)
		if err != nil {
			for _, rest := range handles[i:] {
				rest.Cancel()
			}
			return nil, err
		}
		r, ok := v.(R)
		if !ok && v != nil {
			return nil, fmt.Errorf("map: task %d returned %T", i, v)
		}
		out[i] = r
	}
	return out, nil
}
