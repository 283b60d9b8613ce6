package hydrate

import (
	"context"
	"sync"
	"time"
)

// Run is one progressive load. Partial is set when Hydrate returns and never
// changes; Complete and Stale describe Partial itself. Wait blocks for the
// final merged listing.
type Run[T any] struct {
	ID       string
	Partial  []T
	Complete bool
	Stale    bool // Partial is an expired copy served because page 1 failed
	StoredAt time.Time

	done     chan struct{}
	once     sync.Once
	items    []T
	finished time.Time
	err      error
}

func newRun[T any](id string, partial []T) *Run[T] {
	return &Run[T]{ID: id, Partial: partial, done: make(chan struct{})}
}

func completedRun[T any](id string, items []T, storedAt time.Time, stale bool) *Run[T] {
	r := &Run[T]{
		ID:       id,
		Partial:  items,
		Complete: true,
		Stale:    stale,
		StoredAt: storedAt,
		done:     make(chan struct{}),
	}
	r.complete(items, storedAt)
	return r
}

// Done is closed when the run has settled.
func (r *Run[T]) Done() <-chan struct{} { return r.done }

// Wait blocks until the run settles or ctx ends and returns the merged items.
func (r *Run[T]) Wait(ctx context.Context) ([]T, error) {
	select {
	case <-r.done:
		return r.items, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CompletedAt returns when the final listing was stored. Zero until settled.
func (r *Run[T]) CompletedAt() time.Time {
	select {
	case <-r.done:
		return r.finished
	default:
		return time.Time{}
	}
}

func (r *Run[T]) complete(items []T, at time.Time) {
	r.once.Do(func() {
		r.items = items
		r.finished = at
		close(r.done)
	})
}

func (r *Run[T]) fail(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}
