package makeparallel

import (
	"sync"
	"time"
)

// ─── Metrics Registry ───────────────────────────────────────────────────────

// FunctionMetrics is a point-in-time snapshot of the counters for one
// task name. AverageExecTime is derived from executed (completed plus
// failed) tasks.
type FunctionMetrics struct {
	TotalTasks      int64         `json:"total_tasks"`
	CompletedTasks  int64         `json:"completed_tasks"`
	FailedTasks     int64         `json:"failed_tasks"`
	TotalExecTime   time.Duration `json:"total_exec_time"`
	AverageExecTime time.Duration `json:"average_exec_time"`
}

// MetricsSnapshot is a consistent view of the whole registry.
type MetricsSnapshot struct {
	PerFunction map[string]FunctionMetrics `json:"per_function"`
	Global      FunctionMetrics            `json:"global"`
}

type functionCounters struct {
	total     int64
	completed int64
	failed    int64
	execTime  time.Duration
}

func (c *functionCounters) snapshot() FunctionMetrics {
	m := FunctionMetrics{
		TotalTasks:     c.total,
		CompletedTasks: c.completed,
		FailedTasks:    c.failed,
		TotalExecTime:  c.execTime,
	}
	if executed := c.completed + c.failed; executed > 0 {
		m.AverageExecTime = c.execTime / time.Duration(executed)
	}
	return m
}

// MetricsRegistry aggregates per-task-name execution counters plus a
// global mirror. TotalTasks counts submissions; CompletedTasks,
// FailedTasks and exec time are recorded exactly once, at the terminal
// transition. Reads never observe a torn update.
type MetricsRegistry struct {
	mu      sync.RWMutex
	perFunc map[string]*functionCounters
	global  functionCounters
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{perFunc: make(map[string]*functionCounters)}
}

func (r *MetricsRegistry) counters(name string) *functionCounters {
	c, ok := r.perFunc[name]
	if !ok {
		c = &functionCounters{}
		r.perFunc[name] = c
	}
	return c
}

// recordSubmit counts a task at submission time.
func (r *MetricsRegistry) recordSubmit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters(name).total++
	r.global.total++
}

// recordDone counts a terminal transition. Cancelled and timed-out
// tasks count as failed.
func (r *MetricsRegistry) recordDone(name string, elapsed time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counters(name)
	if failed {
		c.failed++
		r.global.failed++
	} else {
		c.completed++
		r.global.completed++
	}
	c.execTime += elapsed
	r.global.execTime += elapsed
}

// Metrics returns the snapshot for one task name.
func (r *MetricsRegistry) Metrics(name string) (FunctionMetrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.perFunc[name]
	if !ok {
		return FunctionMetrics{}, false
	}
	return c.snapshot(), true
}

// All returns a snapshot of every tracked task name plus the global
// mirror.
func (r *MetricsRegistry) All() MetricsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := MetricsSnapshot{
		PerFunction: make(map[string]FunctionMetrics, len(r.perFunc)),
		Global:      r.global.snapshot(),
	}
	for name, c := range r.perFunc {
		out.PerFunction[name] = c.snapshot()
	}
	return out
}

// Reset clears the named counters, or the entire registry (including
// the global mirror) when called with no names.
func (r *MetricsRegistry) Reset(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(names) == 0 {
		r.perFunc = make(map[string]*functionCounters)
		r.global = functionCounters{}
		return
	}
	for _, name := range names {
		if c, ok := r.perFunc[name]; ok {
			r.global.total -= c.total
			r.global.completed -= c.completed
			r.global.failed -= c.failed
			r.global.execTime -= c.execTime
			delete(r.perFunc, name)
		}
	}
}
