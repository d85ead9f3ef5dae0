package makeparallel

import "context"

// ─── Gather ─────────────────────────────────────────────────────────────────

// GatherMode controls how Gather treats failed handles.
type GatherMode int

const (
	// GatherRaise returns the first failure (in handle order) as the
	// error. Remaining handles keep running.
	GatherRaise GatherMode = iota
	// GatherSkip drops failed handles; successes keep their relative
	// order.
	GatherSkip
	// GatherNil keeps positions: a failed handle yields a nil slot.
	GatherNil
)

// Gather waits for every handle and collects results in handle order.
// ctx bounds the whole wait; on expiry the partial work keeps running
// and ctx.Err is returned.
func Gather(ctx context.Context, handles []*Handle, mode GatherMode) ([]any, error) {
	results := make([]any, 0, len(handles))
	for _, h := range handles {
		v, err := h.Get(ctx)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch {
		case err == nil:
			results = append(results, v)
		case mode == GatherRaise:
			return nil, err
		case mode == GatherSkip:
			// dropped
		case mode == GatherNil:
			results = append(results, nil)
		}
	}
	return results, nil
}
