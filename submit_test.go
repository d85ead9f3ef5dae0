package makeparallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSubmitBasics(t *testing.T) {
	rt := newTestRuntime(t)

	tests := []struct {
		name   string
		submit func(fn TaskFunc) (*Handle, error)
	}{
		{"go", func(fn TaskFunc) (*Handle, error) { return rt.Go(fn) }},
		{"pool", func(fn TaskFunc) (*Handle, error) { return rt.Submit(fn) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := tt.submit(func(ctx context.Context) (any, error) {
				return tt.name, nil
			})
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			v, err := h.Get(context.Background())
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if v != tt.name {
				t.Fatalf("result = %v, want %q", v, tt.name)
			}
		})
	}
}

func TestBodyPanicBecomesFailure(t *testing.T) {
	rt := newTestRuntime(t)

	h, err := rt.Submit(func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, gerr := h.Get(context.Background())
	if gerr == nil {
		t.Fatal("panicking task reported success")
	}
	if got := h.Status(); got != TaskFailed {
		t.Fatalf("status = %s, want %s", got, TaskFailed)
	}

	// The pool worker must survive to run the next task.
	next, err := rt.Submit(func(ctx context.Context) (any, error) { return "alive", nil })
	if err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	if v, err := next.Get(context.Background()); err != nil || v != "alive" {
		t.Fatalf("follow-up task = (%v, %v)", v, err)
	}
}

func TestAfterChain(t *testing.T) {
	rt := newTestRuntime(t)

	a, err := rt.Go(func(ctx context.Context) (any, error) { return 1, nil })
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	b, err := rt.After([]*Handle{a}, func(ctx context.Context, results []any) (any, error) {
		return results[0].(int) + 10, nil
	})
	if err != nil {
		t.Fatalf("After: %v", err)
	}
	c, err := rt.After([]*Handle{b}, func(ctx context.Context, results []any) (any, error) {
		return results[0].(int) * 2, nil
	})
	if err != nil {
		t.Fatalf("After: %v", err)
	}

	v, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 22 {
		t.Fatalf("chain result = %v, want 22", v)
	}
}

func TestAfterDiamond(t *testing.T) {
	rt := newTestRuntime(t)

	root, _ := rt.Go(func(ctx context.Context) (any, error) { return 3, nil })
	left, _ := rt.After([]*Handle{root}, func(ctx context.Context, results []any) (any, error) {
		return results[0].(int) + 1, nil
	})
	right, _ := rt.After([]*Handle{root}, func(ctx context.Context, results []any) (any, error) {
		return results[0].(int) * 10, nil
	})
	join, _ := rt.After([]*Handle{left, right}, func(ctx context.Context, results []any) (any, error) {
		// Results arrive in deps order: left first, right second.
		return results[0].(int) + results[1].(int), nil
	})

	v, err := join.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 34 {
		t.Fatalf("diamond result = %v, want 34", v)
	}
}

func TestAfterDependencyFailure(t *testing.T) {
	rt := newTestRuntime(t)

	bad, _ := rt.Go(func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream broke")
	}, WithName("upstream"))

	ran := false
	dep, err := rt.After([]*Handle{bad}, func(ctx context.Context, results []any) (any, error) {
		ran = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("After: %v", err)
	}

	_, gerr := dep.Get(context.Background())
	var de *DependencyError
	if !errors.As(gerr, &de) {
		t.Fatalf("Get = %v, want *DependencyError", gerr)
	}
	if de.DepName != "upstream" {
		t.Fatalf("DependencyError.DepName = %q", de.DepName)
	}
	if ran {
		t.Fatal("dependent body ran despite failed predecessor")
	}
	if got := dep.Status(); got != TaskFailed {
		t.Fatalf("status = %s, want %s", got, TaskFailed)
	}
}

func TestAfterFanOutFromFailedRoot(t *testing.T) {
	rt := newTestRuntime(t)

	root, _ := rt.Go(func(ctx context.Context) (any, error) {
		return nil, errors.New("root failed")
	})

	for i := 0; i < 3; i++ {
		dep, err := rt.After([]*Handle{root}, func(ctx context.Context, results []any) (any, error) {
			return nil, nil
		})
		if err != nil {
			t.Fatalf("After: %v", err)
		}
		if _, gerr := dep.Get(context.Background()); gerr == nil {
			t.Fatalf("fan-out dependent %d succeeded despite failed root", i)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	rt := newTestRuntime(t)

	var mu sync.Mutex
	var order []int

	// Worker stopped: submissions queue without dispatching.
	priorities := []int{1, 5, 3, 5, 2}
	handles := make([]*Handle, 0, len(priorities))
	for _, p := range priorities {
		p := p
		h, err := rt.SubmitPriority(func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			return nil, nil
		}, p)
		if err != nil {
			t.Fatalf("SubmitPriority: %v", err)
		}
		handles = append(handles, h)
	}

	time.Sleep(50 * time.Millisecond)
	if rt.PriorityQueueLen() != len(priorities) {
		t.Fatalf("queue drained while worker stopped: len = %d", rt.PriorityQueueLen())
	}

	rt.StartPriorityWorker()
	for _, h := range handles {
		if !h.Wait(2 * time.Second) {
			t.Fatal("priority task never ran")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{5, 5, 3, 2, 1} // priority desc, FIFO within a level
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("execution order = %v, want %v", order, want)
	}
}

func TestPriorityFIFOWithinLevel(t *testing.T) {
	rt := newTestRuntime(t)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		if _, err := rt.SubmitPriority(func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}, 7, WithName(name)); err != nil {
			t.Fatalf("SubmitPriority: %v", err)
		}
	}

	rt.StartPriorityWorker()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(order) != fmt.Sprint([]string{"first", "second", "third"}) {
		t.Fatalf("same-priority order = %v, want submission order", order)
	}
}

func TestStopPriorityWorkerKeepsQueue(t *testing.T) {
	rt := newTestRuntime(t)

	rt.StartPriorityWorker()
	rt.StopPriorityWorker()

	h, err := rt.SubmitPriority(func(ctx context.Context) (any, error) {
		return "queued then ran", nil
	}, 1)
	if err != nil {
		t.Fatalf("SubmitPriority: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if h.IsReady() {
		t.Fatal("task dispatched while worker stopped")
	}

	rt.StartPriorityWorker()
	if v, gerr := h.Get(context.Background()); gerr != nil || v != "queued then ran" {
		t.Fatalf("Get = (%v, %v)", v, gerr)
	}
}

func TestMap(t *testing.T) {
	rt := newTestRuntime(t)

	items := []int{1, 2, 3, 4, 5}
	out, err := Map(context.Background(), rt, items, func(ctx context.Context, n int) (int, error) {
		return n * n, nil
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	want := []int{1, 4, 9, 16, 25}
	if fmt.Sprint(out) != fmt.Sprint(want) {
		t.Fatalf("Map = %v, want %v", out, want)
	}
}

func TestMapPropagatesFailure(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := Map(context.Background(), rt, []int{1, 2, 3}, func(ctx context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errors.New("item 2 broke")
		}
		return n, nil
	})
	if err == nil {
		t.Fatal("Map swallowed the failure")
	}
}
