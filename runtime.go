package makeparallel

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amiyamandal-dev/makeParallel/internal/history"
	"github.com/amiyamandal-dev/makeParallel/internal/obs"
	"github.com/amiyamandal-dev/makeParallel/internal/pool"
	"github.com/amiyamandal-dev/makeParallel/internal/pqueue"
	"github.com/amiyamandal-dev/makeParallel/internal/resource"
)

// DefaultWorkers is the initial shared-pool size when WithWorkers is
// not given.
const DefaultWorkers = 4

// memoryPollInterval is how often an admission-blocked task re-checks
// the memory reading (the memory sensor has no wakeup to wait on).
const memoryPollInterval = 100 * time.Millisecond

// ─── Runtime ────────────────────────────────────────────────────────────────

// Runtime owns every piece of execution state: the shared worker pool,
// the priority dispatch worker, the active-task registry, admission
// limits, the metrics registry and optional task history. Construct
// with New; there is no package-level instance.
type Runtime struct {
	logger  *zap.Logger
	pool    *pool.Pool
	prio    *pqueue.Worker
	metrics *MetricsRegistry
	history *history.DB

	mu            sync.Mutex
	cond          *sync.Cond // admission waiters and drain waiters
	active        map[string]*Handle
	running       int
	inFlight      int // submitted, not yet terminal
	maxConcurrent int // 0 = unlimited
	memLimitPct   float64
	down          bool

	poolSize int // only consulted during New
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(rt *Runtime) {
		if l != nil {
			rt.logger = l
		}
	}
}

// WithWorkers sets the initial shared-pool size.
func WithWorkers(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.poolSize = n
		}
	}
}

// WithMaxConcurrent sets the ceiling on concurrently running tasks.
func WithMaxConcurrent(n int) Option {
	return func(rt *Runtime) { rt.maxConcurrent = n }
}

// WithHistory attaches a task-history store; every terminal transition
// appends a record.
func WithHistory(db *history.DB) Option {
	return func(rt *Runtime) { rt.history = db }
}

// New constructs a Runtime with the given options.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		logger:   zap.NewNop(),
		metrics:  NewMetricsRegistry(),
		active:   make(map[string]*Handle),
		poolSize: DefaultWorkers,
	}
	rt.cond = sync.NewCond(&rt.mu)
	for _, opt := range opts {
		opt(rt)
	}
	rt.pool = pool.New(rt.poolSize, rt.logger)
	rt.prio = pqueue.New(rt.logger)
	obs.PoolWorkers.Set(float64(rt.poolSize))
	return rt
}

// ─── Pool / Priority Worker ─────────────────────────────────────────────────

// ConfigureWorkers resizes the shared pool. Queued and running work is
// never dropped.
func (rt *Runtime) ConfigureWorkers(n int) {
	if n < 1 {
		n = 1
	}
	rt.pool.Resize(n)
	obs.PoolWorkers.Set(float64(n))
	rt.logger.Info("pool resized", zap.Int("workers", n))
}

// PoolInfo reports the shared pool's worker and queue state.
func (rt *Runtime) PoolInfo() pool.Info {
	return rt.pool.Info()
}

// StartPriorityWorker launches the priority dispatch loop. No-op if
// already running.
func (rt *Runtime) StartPriorityWorker() {
	rt.prio.Start()
	rt.logger.Info("priority worker started")
}

// StopPriorityWorker halts priority dispatch after the in-flight item.
// Queued items stay queued and run after the next start.
func (rt *Runtime) StopPriorityWorker() {
	rt.prio.Stop()
	rt.logger.Info("priority worker stopped",
		zap.Int("queued", rt.prio.Len()))
}

// PriorityWorkerRunning reports whether the dispatch loop is active.
func (rt *Runtime) PriorityWorkerRunning() bool { return rt.prio.Running() }

// PriorityQueueLen returns queued (undispatched) priority items.
func (rt *Runtime) PriorityQueueLen() int { return rt.prio.Len() }

// ─── Admission ──────────────────────────────────────────────────────────────

// SetMaxConcurrent caps concurrently *running* tasks; excess
// submissions wait for a slot, they are never rejected. n <= 0 removes
// the cap.
func (rt *Runtime) SetMaxConcurrent(n int) {
	rt.mu.Lock()
	if n < 0 {
		n = 0
	}
	rt.maxConcurrent = n
	rt.mu.Unlock()
	rt.cond.Broadcast()
}

// ConfigureMemoryLimit blocks new task starts while system memory usage
// is at or above pct percent. pct <= 0 disables the check.
func (rt *Runtime) ConfigureMemoryLimit(pct float64) {
	rt.mu.Lock()
	if pct < 0 || pct > 100 {
		pct = 0
	}
	rt.memLimitPct = pct
	rt.mu.Unlock()
}

// ActiveTasks returns the number of currently running tasks. Queued
// tasks do not count.
func (rt *Runtime) ActiveTasks() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.running
}

// InFlight returns submitted-but-not-terminal tasks (running + queued).
func (rt *Runtime) InFlight() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.inFlight
}

// acquireSlot blocks until the handle may start running. Returns false
// if the handle reached a terminal state (cancelled) while waiting.
func (rt *Runtime) acquireSlot(h *Handle) bool {
	rt.mu.Lock()
	for {
		if h.IsReady() {
			rt.mu.Unlock()
			return false
		}
		slotOK := rt.maxConcurrent == 0 || rt.running < rt.maxConcurrent
		if slotOK && rt.memoryOK() {
			rt.running++
			rt.mu.Unlock()
			obs.TasksActive.Inc()
			return true
		}
		if slotOK {
			// Blocked only on memory: the sensor has no signal to
			// wait on, so poll.
			rt.mu.Unlock()
			time.Sleep(memoryPollInterval)
			rt.mu.Lock()
			continue
		}
		rt.cond.Wait()
	}
}

func (rt *Runtime) releaseSlot() {
	rt.mu.Lock()
	rt.running--
	rt.mu.Unlock()
	obs.TasksActive.Dec()
	rt.cond.Signal()
}

// memoryOK is called with rt.mu held. An unreadable sensor admits.
func (rt *Runtime) memoryOK() bool {
	if rt.memLimitPct <= 0 {
		return true
	}
	used := resource.UsedMemoryPercent()
	return used < 0 || used < rt.memLimitPct
}

// ─── Metrics ────────────────────────────────────────────────────────────────

// Metrics returns the counters recorded under name.
func (rt *Runtime) Metrics(name string) (FunctionMetrics, bool) {
	return rt.metrics.Metrics(name)
}

// AllMetrics returns a consistent snapshot of all counters.
func (rt *Runtime) AllMetrics() MetricsSnapshot {
	return rt.metrics.All()
}

// ResetMetrics clears the named counters, or everything with no names.
func (rt *Runtime) ResetMetrics(names ...string) {
	rt.metrics.Reset(names...)
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Shutdown stops accepting submissions, halts the priority worker and
// waits up to timeout for in-flight tasks to reach a terminal state.
// With cancelPending, every non-terminal task is cancelled first.
// Returns true if everything drained within the timeout.
func (rt *Runtime) Shutdown(timeout time.Duration, cancelPending bool) bool {
	rt.mu.Lock()
	if rt.down {
		pending := rt.inFlight
		rt.mu.Unlock()
		return pending == 0
	}
	rt.down = true
	var handles []*Handle
	if cancelPending {
		handles = make([]*Handle, 0, len(rt.active))
		for _, h := range rt.active {
			handles = append(handles, h)
		}
	}
	rt.mu.Unlock()

	rt.logger.Info("shutdown requested",
		zap.Duration("timeout", timeout),
		zap.Bool("cancel_pending", cancelPending))

	// The stop request must not join the dispatch loop: an in-flight
	// priority body would hold Shutdown past its own timeout. The drain
	// loop below bounds the whole wait.
	deadline := time.Now().Add(timeout)
	rt.prio.RequestStop()
	for _, h := range handles {
		h.Cancel()
	}

	for {
		rt.mu.Lock()
		pending := rt.inFlight
		rt.mu.Unlock()
		if pending == 0 {
			rt.logger.Info("shutdown drained")
			return true
		}
		if !time.Now().Before(deadline) {
			rt.logger.Warn("shutdown timeout expired",
				zap.Int("still_pending", pending))
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ResetShutdown re-arms the runtime so submissions are accepted again.
// The priority worker stays stopped until explicitly started.
func (rt *Runtime) ResetShutdown() {
	rt.mu.Lock()
	rt.down = false
	rt.mu.Unlock()
	rt.logger.Info("shutdown reset, accepting submissions")
}

// IsShutdown reports whether submissions are currently rejected.
func (rt *Runtime) IsShutdown() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.down
}

// Close releases backend resources (pool workers, priority loop). Call
// after Shutdown; submissions after Close are rejected via the
// shutdown flag.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	rt.down = true
	rt.mu.Unlock()
	rt.prio.Stop()
	rt.pool.Close()
}

// ─── Bookkeeping ────────────────────────────────────────────────────────────

// register tracks a freshly created handle. Fails once shut down.
func (rt *Runtime) register(h *Handle, backend string) error {
	rt.mu.Lock()
	if rt.down {
		rt.mu.Unlock()
		return ErrShutdown
	}
	rt.active[h.id] = h
	rt.inFlight++
	rt.mu.Unlock()

	rt.metrics.recordSubmit(h.name)
	obs.TasksSubmitted.WithLabelValues(backend).Inc()
	rt.observeQueues()
	return nil
}

func (rt *Runtime) observeQueues() {
	obs.QueueDepth.WithLabelValues("pool").Set(float64(rt.pool.Info().Queued))
	obs.QueueDepth.WithLabelValues("priority").Set(float64(rt.prio.Len()))
}

// CancelByID requests cancellation of a tracked task by id. Returns
// ErrUnknownTask if the id is not tracked (never submitted, or already
// terminal).
func (rt *Runtime) CancelByID(id string) error {
	h, ok := rt.lookupActive(id)
	if !ok {
		return ErrUnknownTask
	}
	h.Cancel()
	return nil
}

// lookupActive finds a tracked (non-terminal) handle by id.
func (rt *Runtime) lookupActive(id string) (*Handle, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	h, ok := rt.active[id]
	return h, ok
}

// taskFinished is invoked by Handle.finish exactly once per handle.
func (rt *Runtime) taskFinished(h *Handle) {
	rt.mu.Lock()
	delete(rt.active, h.id)
	rt.inFlight--
	rt.mu.Unlock()
	rt.cond.Broadcast()

	h.mu.Lock()
	status := h.status
	terr := h.err
	started, completed := h.started, h.completed
	h.mu.Unlock()

	elapsed := time.Duration(0)
	if !started.IsZero() {
		elapsed = completed.Sub(started)
	}

	rt.metrics.recordDone(h.name, elapsed, status != TaskCompleted)
	rt.observeQueues()
	if status == TaskCompleted {
		obs.TasksCompleted.Inc()
	} else {
		obs.TasksFailed.WithLabelValues(string(status)).Inc()
	}
	obs.TaskDuration.Observe(elapsed.Seconds())

	if status == TaskCompleted {
		rt.logger.Debug("task completed",
			zap.String("task_id", shortID(h.id)),
			zap.String("task_name", h.name),
			zap.Duration("elapsed", elapsed))
	} else {
		rt.logger.Debug("task ended",
			zap.String("task_id", shortID(h.id)),
			zap.String("task_name", h.name),
			zap.String("status", string(status)),
			zap.Error(terr))
	}

	if rt.history != nil {
		errMsg := ""
		if terr != nil {
			errMsg = terr.Error()
		}
		rec := history.Record{
			ID:          h.id,
			Name:        h.name,
			Status:      string(status),
			Priority:    h.priority,
			CreatedAt:   h.created,
			StartedAt:   started,
			CompletedAt: completed,
			Error:       errMsg,
		}
		if err := rt.history.Append(rec); err != nil {
			rt.logger.Warn("task history append failed", zap.Error(err))
		}
	}
}
