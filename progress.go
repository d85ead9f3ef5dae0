package makeparallel

import "context"

// ─── Progress Reporting ─────────────────────────────────────────────────────
// Task bodies receive a context carrying their task id; ReportProgress
// resolves the current task from it, so the body needs no reference to
// its own handle.

type ctxKey int

const taskIDKey ctxKey = iota

func withTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// CurrentTaskID extracts the task id from a task body's context.
func CurrentTaskID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey).(string)
	return id, ok
}

// ReportProgress records progress for the task associated with ctx.
// fraction must be finite; finite values are clamped to [0, 1] and
// regressions are ignored, so observed progress never decreases.
// Returns ErrNotInTask outside a task body.
func (rt *Runtime) ReportProgress(ctx context.Context, fraction float64) error {
	id, ok := CurrentTaskID(ctx)
	if !ok {
		return ErrNotInTask
	}
	return rt.ReportProgressFor(id, fraction)
}

// ReportProgressFor records progress for an explicit task id, for
// reporters outside the task body (e.g. an external monitor).
func (rt *Runtime) ReportProgressFor(id string, fraction float64) error {
	h, ok := rt.lookupActive(id)
	if !ok {
		return ErrUnknownTask
	}
	return h.reportProgress(fraction)
}
