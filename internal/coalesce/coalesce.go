// Package coalesce guarantees at most one in-flight call per resource key.
// Concurrent callers for the same key share the pending result; a settled
// call is forgotten immediately, so failures are never cached.
package coalesce

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Group de-duplicates calls returning T.
type Group[T any] struct {
	g        singleflight.Group
	inflight atomic.Int64
}

// Do runs fn once for all concurrent callers of key. fn receives a context
// detached from any single caller's cancellation so one impatient caller
// cannot fail the call for the rest; callers whose ctx ends return ctx.Err()
// while the shared call continues. shared reports whether the result was
// delivered to more than one caller.
func (c *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (v T, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := c.g.DoChan(key, func() (any, error) {
		c.inflight.Add(1)
		defer c.inflight.Add(-1)
		return fn(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// InFlight returns the number of calls currently executing.
func (c *Group[T]) InFlight() int {
	return int(c.inflight.Load())
}
