package makeparallel

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCallCounter(t *testing.T) {
	c := NewCallCounter(func(ctx context.Context) (int, error) {
		return 1, nil
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := c.Call(ctx); err != nil {
			t.Fatalf("Call: %v", err)
		}
	}
	if got := c.Count(); got != 5 {
		t.Fatalf("Count = %d, want 5", got)
	}

	c.Reset()
	if got := c.Count(); got != 0 {
		t.Fatalf("Count after Reset = %d, want 0", got)
	}
	c.Call(ctx)
	if got := c.Count(); got != 1 {
		t.Fatalf("Count after Reset+Call = %d, want 1", got)
	}
}

func TestTimedLogsDuration(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	fn := Timed(logger, "work", func(ctx context.Context) (string, error) {
		return "done", nil
	})
	v, err := fn(context.Background())
	if err != nil || v != "done" {
		t.Fatalf("Timed fn = (%v, %v)", v, err)
	}

	entries := logs.FilterMessage("timed call").All()
	if len(entries) != 1 {
		t.Fatalf("timed call logged %d times, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["name"] != "work" {
		t.Fatalf("logged name = %v", fields["name"])
	}
	if fields["ok"] != true {
		t.Fatalf("logged ok = %v", fields["ok"])
	}
}

func TestLoggedReportsFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	boom := errors.New("boom")
	fn := Logged(logger, "shaky", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if _, err := fn(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Logged fn err = %v", err)
	}

	if n := logs.FilterMessage("call failed").Len(); n != 1 {
		t.Fatalf("call failed logged %d times, want 1", n)
	}
	if n := logs.FilterMessage("call start").Len(); n != 1 {
		t.Fatalf("call start logged %d times, want 1", n)
	}
}
