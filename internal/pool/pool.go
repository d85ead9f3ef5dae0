// Package pool implements the shared FIFO worker pool backend.
//
// The queue is unbounded: submissions never block and never get
// rejected; admission limits live a layer above. The pool can be
// resized at runtime; shrinking retires workers as they go idle and
// never drops queued or in-flight work.
package pool

import (
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Pool is a fixed-contract, variable-size worker pool.
type Pool struct {
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func() // FIFO
	desired int      // target worker count
	live    int      // spawned workers not yet exited
	busy    int      // workers currently executing a job
	closed  bool
	wg      sync.WaitGroup
}

// Info is a point-in-time view of the pool.
type Info struct {
	Workers int `json:"workers"`
	Busy    int `json:"busy"`
	Queued  int `json:"queued"`
}

// New creates a pool with n workers (minimum 1).
func New(n int, logger *zap.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{logger: logger, desired: n}
	p.cond = sync.NewCond(&p.mu)
	p.mu.Lock()
	p.spawnLocked(n)
	p.mu.Unlock()
	return p
}

// Submit enqueues a job. Never blocks. Returns false once the pool is
// closed so the caller can settle whatever state it tied to the job.
func (p *Pool) Submit(job func()) bool {
	if job == nil {
		return false
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, job)
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

// Resize sets the target worker count (minimum 1). Growing spawns
// workers immediately; shrinking lets excess workers retire once idle.
// Queued work is never dropped either way.
func (p *Pool) Resize(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.desired = n
	if n > p.live {
		p.spawnLocked(n - p.live)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Info reports current worker and queue state.
func (p *Pool) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Info{Workers: p.desired, Busy: p.busy, Queued: len(p.queue)}
}

// Close drains the queue and stops all workers. Blocks until every
// queued job has run.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) spawnLocked(n int) {
	p.live += n
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed && p.live <= p.desired {
			p.cond.Wait()
		}
		// Retire excess workers before taking work; the job stays
		// queued for a surviving worker.
		if p.live > p.desired || (p.closed && len(p.queue) == 0) {
			p.live--
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.busy++
		p.mu.Unlock()

		p.run(job)

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
	}
}

// run executes a job with panic isolation so one bad task cannot take
// down a worker.
func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool worker recovered panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	job()
}
