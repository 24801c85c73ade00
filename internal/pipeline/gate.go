package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps simultaneous work at one fan-out point.
const DefaultConcurrency = 50

// Gate bounds concurrent work at a single fan-out call site. Every Each call
// gets its own limit, so nested fan-outs multiply rather than share it.
type Gate struct {
	limit int
}

// NewGate returns a gate admitting at most limit concurrent calls per fan-out.
func NewGate(limit int) Gate {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return Gate{limit: limit}
}

// Limit reports the per-fan-out ceiling.
func (g Gate) Limit() int {
	if g.limit <= 0 {
		return DefaultConcurrency
	}
	return g.limit
}

// Each calls fn for every index in [0, n) and waits for all calls to return.
func (g Gate) Each(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	if n <= 0 {
		return
	}
	var eg errgroup.Group
	eg.SetLimit(g.Limit())
	for i := range n {
		eg.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = eg.Wait()
}
