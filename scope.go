package makeparallel

import (
	"sync"
	"time"
)

// ─── Scope ──────────────────────────────────────────────────────────────────

// Scope groups submissions under one default timeout and guarantees
// they are waited on before the scope is left:
//
//	s := rt.NewScope(2 * time.Second)
//	defer s.Close()
//	s.Submit(work)
//
// Close blocks until every handle submitted through the scope reaches
// a terminal state, however the surrounding function exits.
type Scope struct {
	rt      *Runtime
	timeout time.Duration

	mu      sync.Mutex
	handles []*Handle
}

// NewScope creates a scope. timeout, when > 0, becomes the default
// WithTimeout for submissions that do not set their own.
func (rt *Runtime) NewScope(timeout time.Duration) *Scope {
	return &Scope{rt: rt, timeout: timeout}
}

// Go submits through Runtime.Go, tracked by the scope.
func (s *Scope) Go(fn TaskFunc, opts ...TaskOption) (*Handle, error) {
	h, err := s.rt.Go(fn, s.withDefaults(opts)...)
	return s.track(h, err)
}

// Submit submits through Runtime.Submit, tracked by the scope.
func (s *Scope) Submit(fn TaskFunc, opts ...TaskOption) (*Handle, error) {
	h, err := s.rt.Submit(fn, s.withDefaults(opts)...)
	return s.track(h, err)
}

// SubmitPriority submits through Runtime.SubmitPriority, tracked by
// the scope.
func (s *Scope) SubmitPriority(fn TaskFunc, priority int, opts ...TaskOption) (*Handle, error) {
	h, err := s.rt.SubmitPriority(fn, priority, s.withDefaults(opts)...)
	return s.track(h, err)
}

// Handles returns the handles submitted so far, in submission order.
func (s *Scope) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Cancel requests cancellation of every tracked handle.
func (s *Scope) Cancel() {
	for _, h := range s.Handles() {
		h.Cancel()
	}
}

// Close waits for every tracked handle to reach a terminal state.
// Handles carry their own timeouts, so a scope with a timeout cannot
// block past it by more than the slowest terminal transition.
func (s *Scope) Close() {
	for _, h := range s.Handles() {
		<-h.done
	}
}

func (s *Scope) withDefaults(opts []TaskOption) []TaskOption {
	if s.timeout <= 0 {
		return opts
	}
	// Prepend so an explicit WithTimeout in opts wins.
	return append([]TaskOption{WithTimeout(s.timeout)}, opts...)
}

func (s *Scope) track(h *Handle, err error) (*Handle, error) {
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h, nil
}
