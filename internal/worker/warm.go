package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/hydrate"
)

// SetLister starts set-list hydrations.
type SetLister interface {
	Sets(ctx context.Context) (*hydrate.Run[tcgcache.Set], error)
}

// SetWarmer keeps the persisted set list fresh so the first UI request after
// start or expiry is served from cache. A fresh listing costs no fetch.
type SetWarmer struct {
	sets     SetLister
	interval time.Duration
}

// NewSetWarmer creates a SetWarmer that re-checks the listing every interval.
func NewSetWarmer(sets SetLister, interval time.Duration) *SetWarmer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SetWarmer{sets: sets, interval: interval}
}

// Name returns the worker identifier.
func (w *SetWarmer) Name() string { return "set_warmer" }

// Run warms once at start, then on every tick until ctx is cancelled.
func (w *SetWarmer) Run(ctx context.Context) error {
	w.warm(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.warm(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *SetWarmer) warm(ctx context.Context) {
	run, err := w.sets.Sets(ctx)
	if err == nil {
		_, err = run.Wait(ctx)
	}
	switch {
	case err == nil:
	case ctx.Err() != nil, errors.Is(err, hydrate.ErrSuperseded):
		// Shutdown, or a UI request started a newer run.
	default:
		slog.LogAttrs(ctx, slog.LevelWarn, "set list warm-up failed",
			slog.String("error", err.Error()),
		)
	}
}
