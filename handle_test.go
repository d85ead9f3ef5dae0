package makeparallel

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt := New(opts...)
	t.Cleanup(rt.Close)
	return rt
}

func TestTerminalStateIsFinal(t *testing.T) {
	rt := newTestRuntime(t)

	h, err := rt.Go(func(ctx context.Context) (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if !h.Wait(2 * time.Second) {
		t.Fatal("task never finished")
	}
	if got := h.Status(); got != TaskCompleted {
		t.Fatalf("status = %s, want %s", got, TaskCompleted)
	}

	// A late cancel must not displace the terminal state.
	h.Cancel()
	if got := h.Status(); got != TaskCompleted {
		t.Fatalf("status after late cancel = %s, want %s", got, TaskCompleted)
	}
	v, err := h.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 42 {
		t.Fatalf("result = %v, want 42", v)
	}
}

func TestGetPrefersTerminalResultOverExpiredContext(t *testing.T) {
	rt := newTestRuntime(t)

	h, err := rt.Go(func(ctx context.Context) (any, error) { return 9, nil })
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if !h.Wait(2 * time.Second) {
		t.Fatal("task never finished")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The old select raced randomly, so repeat to catch a regression.
	for i := 0; i < 50; i++ {
		v, gerr := h.Get(ctx)
		if gerr != nil {
			t.Fatalf("Get on terminal handle = %v, want cached result", gerr)
		}
		if v != 9 {
			t.Fatalf("Get = %v, want 9", v)
		}
	}
}

func TestTryGetBeforeReady(t *testing.T) {
	rt := newTestRuntime(t)

	release := make(chan struct{})
	h, err := rt.Go(func(ctx context.Context) (any, error) {
		<-release
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}

	if _, err := h.TryGet(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("TryGet before ready = %v, want ErrNotReady", err)
	}
	close(release)
	if !h.Wait(2 * time.Second) {
		t.Fatal("task never finished")
	}
	if v, err := h.TryGet(); err != nil || v != "done" {
		t.Fatalf("TryGet after ready = (%v, %v)", v, err)
	}
}

func TestPreStartCancel(t *testing.T) {
	rt := newTestRuntime(t, WithWorkers(1))

	// Occupy the only worker so the second submission stays queued.
	block := make(chan struct{})
	first, err := rt.Submit(func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ran := false
	queued, err := rt.Submit(func(ctx context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	queued.Cancel()
	if !queued.Wait(2 * time.Second) {
		t.Fatal("cancelled task never reached a terminal state")
	}
	if got := queued.Status(); got != TaskCancelled {
		t.Fatalf("status = %s, want %s", got, TaskCancelled)
	}
	if _, err := queued.Get(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Get = %v, want ErrCancelled", err)
	}

	close(block)
	first.Wait(2 * time.Second)
	if ran {
		t.Fatal("cancelled task body ran")
	}
}

func TestWallClockTimeout(t *testing.T) {
	rt := newTestRuntime(t)

	start := time.Now()
	h, err := rt.Go(func(ctx context.Context) (any, error) {
		// Deliberately ignores ctx: the handle must still time out.
		time.Sleep(500 * time.Millisecond)
		return "late", nil
	}, WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Go: %v", err)
	}

	_, gerr := h.Get(context.Background())
	if !errors.Is(gerr, ErrTimeout) {
		t.Fatalf("Get = %v, want ErrTimeout", gerr)
	}
	if got := h.Status(); got != TaskTimedOut {
		t.Fatalf("status = %s, want %s", got, TaskTimedOut)
	}
	if waited := time.Since(start); waited > 400*time.Millisecond {
		t.Fatalf("Get blocked %s, timeout did not pre-empt the body", waited)
	}

	// The late body result must be discarded.
	time.Sleep(550 * time.Millisecond)
	if got := h.Status(); got != TaskTimedOut {
		t.Fatalf("status after body returned = %s, want %s", got, TaskTimedOut)
	}
}

func TestCooperativeCancelRunning(t *testing.T) {
	rt := newTestRuntime(t)

	started := make(chan struct{})
	h, err := rt.Go(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	<-started

	if !h.CancelWithTimeout(2 * time.Second) {
		t.Fatal("task did not stop after cancel")
	}
	if got := h.Status(); got != TaskCancelled {
		t.Fatalf("status = %s, want %s", got, TaskCancelled)
	}
	if !h.IsCancelled() {
		t.Fatal("IsCancelled = false after Cancel")
	}
}

func TestOnErrorEnriched(t *testing.T) {
	rt := newTestRuntime(t)

	boom := errors.New("boom")
	h, err := rt.Go(func(ctx context.Context) (any, error) {
		return nil, boom
	}, WithName("exploder"))
	if err != nil {
		t.Fatalf("Go: %v", err)
	}

	got := make(chan error, 1)
	h.OnError(func(err error) { got <- err })

	select {
	case err := <-got:
		var te *TaskError
		if !errors.As(err, &te) {
			t.Fatalf("OnError err = %T, want *TaskError", err)
		}
		if te.Name != "exploder" {
			t.Fatalf("TaskError.Name = %q", te.Name)
		}
		if !errors.Is(err, boom) {
			t.Fatal("enriched error lost the cause")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnError never fired")
	}
}

func TestListenerReplayAfterTerminal(t *testing.T) {
	rt := newTestRuntime(t)

	h, err := rt.Go(func(ctx context.Context) (any, error) { return 7, nil })
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	if !h.Wait(2 * time.Second) {
		t.Fatal("task never finished")
	}

	// Registration after the terminal state must replay.
	got := make(chan any, 1)
	h.OnComplete(func(v any) { got <- v })
	select {
	case v := <-got:
		if v != 7 {
			t.Fatalf("replayed result = %v, want 7", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("late OnComplete never replayed")
	}

	// OnError must stay silent on a completed handle.
	errCh := make(chan error, 1)
	h.OnError(func(err error) { errCh <- err })
	select {
	case err := <-errCh:
		t.Fatalf("OnError fired on success: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenerPanicIsolated(t *testing.T) {
	rt := newTestRuntime(t)

	h, err := rt.Go(func(ctx context.Context) (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("Go: %v", err)
	}

	second := make(chan struct{})
	h.OnComplete(func(any) { panic("listener bug") })
	h.OnComplete(func(any) { close(second) })

	if !h.Wait(2 * time.Second) {
		t.Fatal("task never finished")
	}
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second listener never fired after first panicked")
	}
	if got := h.Status(); got != TaskCompleted {
		t.Fatalf("status = %s, want %s", got, TaskCompleted)
	}
}

func TestProgressValidation(t *testing.T) {
	rt := newTestRuntime(t)

	started := make(chan struct{})
	release := make(chan struct{})
	h, err := rt.Go(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	<-started
	defer close(release)

	var mu sync.Mutex
	var seen []float64
	h.OnProgress(func(f float64) {
		mu.Lock()
		seen = append(seen, f)
		mu.Unlock()
	})

	steps := []struct {
		report float64
		want   float64 // expected observable progress after the report
	}{
		{0.25, 0.25},
		{0.10, 0.25}, // regression ignored
		{0.50, 0.50},
		{0.50, 0.50}, // equal re-report accepted, fires listeners
		{1.70, 1.00}, // clamped
	}
	for _, s := range steps {
		if err := rt.ReportProgressFor(h.ID(), s.report); err != nil {
			t.Fatalf("ReportProgressFor(%v): %v", s.report, err)
		}
		if got := h.Progress(); got != s.want {
			t.Fatalf("Progress after report %v = %v, want %v", s.report, got, s.want)
		}
	}

	if err := rt.ReportProgressFor(h.ID(), math.NaN()); !errors.Is(err, ErrInvalidProgress) {
		t.Fatalf("NaN report = %v, want ErrInvalidProgress", err)
	}

	// Listeners fire synchronously per accepted report: one firing for
	// each step except the dropped regression.
	mu.Lock()
	defer mu.Unlock()
	wantSeen := []float64{0.25, 0.50, 0.50, 1.00}
	if len(seen) != len(wantSeen) {
		t.Fatalf("listener fired %d times, want %d: %v", len(seen), len(wantSeen), seen)
	}
	for i, f := range wantSeen {
		if seen[i] != f {
			t.Fatalf("listener sequence = %v, want %v", seen, wantSeen)
		}
	}
}

func TestMetadata(t *testing.T) {
	rt := newTestRuntime(t)

	h, err := rt.Go(func(ctx context.Context) (any, error) { return nil, nil },
		WithTaskMetadata(map[string]string{"origin": "test"}))
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	h.SetMetadata("stage", "final")

	if v, ok := h.Metadata("origin"); !ok || v != "test" {
		t.Fatalf("Metadata(origin) = (%q, %v)", v, ok)
	}
	all := h.AllMetadata()
	if len(all) != 2 || all["stage"] != "final" {
		t.Fatalf("AllMetadata = %v", all)
	}
	h.Wait(2 * time.Second)
}
