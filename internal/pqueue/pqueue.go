// Package pqueue implements the priority submission backend: a binary
// heap of pending items drained by one dedicated dispatch worker.
//
// Ordering is priority descending, FIFO within a priority level (a
// monotonic sequence number breaks ties). The worker is started and
// stopped explicitly; while stopped, submissions queue but nothing
// dispatches.
package pqueue

import (
	"container/heap"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

type item struct {
	priority int
	seq      uint64
	run      func()
}

// itemHeap orders by priority desc, then submission order asc.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Worker is the priority queue plus its dispatch loop.
type Worker struct {
	logger *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	items    itemHeap
	seq      uint64
	running  bool
	stopping bool
	loopDone chan struct{}
}

// New creates a stopped worker with an empty queue.
func New(logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{logger: logger}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Submit queues a work item. Accepted whether or not the dispatch loop
// is running.
func (w *Worker) Submit(priority int, run func()) {
	if run == nil {
		return
	}
	w.mu.Lock()
	w.seq++
	heap.Push(&w.items, &item{priority: priority, seq: w.seq, run: run})
	w.mu.Unlock()
	w.cond.Signal()
}

// Start launches the dispatch loop. No-op if already running.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopping = false
	w.loopDone = make(chan struct{})
	go w.loop(w.loopDone)
}

// Stop halts dispatching after the in-flight item and waits for the
// loop to exit. Queued items stay queued for a later Start.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.stopping = true
	done := w.loopDone
	w.mu.Unlock()
	w.cond.Broadcast()
	<-done
}

// RequestStop asks the loop to halt after the in-flight item without
// waiting for it. Callers that must bound their own wait use this
// instead of Stop, which joins the loop.
func (w *Worker) RequestStop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.stopping = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Running reports whether the dispatch loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Len returns the number of queued (not yet dispatched) items.
func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// loop pops and executes items serially, strictly in heap order.
func (w *Worker) loop(done chan struct{}) {
	defer close(done)
	for {
		w.mu.Lock()
		for len(w.items) == 0 && !w.stopping {
			w.cond.Wait()
		}
		if w.stopping {
			w.running = false
			w.stopping = false
			w.mu.Unlock()
			return
		}
		it := heap.Pop(&w.items).(*item)
		w.mu.Unlock()

		w.dispatch(it)
	}
}

func (w *Worker) dispatch(it *item) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("priority worker recovered panic",
				zap.Int("priority", it.priority),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	it.run()
}
