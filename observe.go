package makeparallel

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ─── Observation Wrappers ───────────────────────────────────────────────────
// Function wrappers in the decorator style: each returns a function of
// the same shape with a cross-cutting concern attached.

// Timed wraps fn to log its wall-clock duration after every call.
func Timed[T any](logger *zap.Logger, name string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) (T, error) {
		start := time.Now()
		v, err := fn(ctx)
		logger.Info("timed call",
			zap.String("name", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Bool("ok", err == nil))
		return v, err
	}
}

// Logged wraps fn to log entry and exit, including the error on
// failure.
func Logged[T any](logger *zap.Logger, name string, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) (T, error) {
		logger.Debug("call start", zap.String("name", name))
		v, err := fn(ctx)
		if err != nil {
			logger.Warn("call failed", zap.String("name", name), zap.Error(err))
		} else {
			logger.Debug("call done", zap.String("name", name))
		}
		return v, err
	}
}

// CallCounter wraps fn with an invocation counter.
type CallCounter[T any] struct {
	calls atomic.Int64
	fn    func(context.Context) (T, error)
}

// NewCallCounter creates a counting wrapper around fn.
func NewCallCounter[T any](fn func(context.Context) (T, error)) *CallCounter[T] {
	return &CallCounter[T]{fn: fn}
}

// Call invokes the wrapped function.
func (c *CallCounter[T]) Call(ctx context.Context) (T, error) {
	c.calls.Add(1)
	return c.fn(ctx)
}

// Count returns the number of invocations since creation or Reset.
func (c *CallCounter[T]) Count() int64 { return c.calls.Load() }

// Reset zeroes the counter.
func (c *CallCounter[T]) Reset() { c.calls.Store(0) }

// Profiled wraps fn so every direct call records into the runtime's
// metrics registry under name, without submitting a task. Useful for
// profiling synchronous code through the same counters the backends
// feed.
func (rt *Runtime) Profiled(name string, fn TaskFunc) TaskFunc {
	if name == "" {
		name = "profiled"
	}
	return func(ctx context.Context) (any, error) {
		rt.metrics.recordSubmit(name)
		start := time.Now()
		v, err := fn(ctx)
		rt.metrics.recordDone(name, time.Since(start), err != nil)
		return v, err
	}
}
