package worker

import (
	"context"
	"log/slog"
	"time"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/telemetry"
)

const defaultSweepInterval = time.Hour

// Sweeper deletes persisted API entries older than a bound.
type Sweeper interface {
	Sweep(ctx context.Context, age time.Duration) (int, error)
	SweepAge() time.Duration
}

// SweepWorker keeps the persistent API namespace bounded. Expired entries are
// kept for offline fallback until they age past the sweep bound.
type SweepWorker struct {
	sweeper  Sweeper
	interval time.Duration
	age      time.Duration // 0 = sweeper.SweepAge()
	metrics  *telemetry.Metrics
}

// NewSweepWorker creates a SweepWorker. A zero interval defaults to one hour;
// a zero age defers to the sweeper's own bound.
func NewSweepWorker(s Sweeper, interval, age time.Duration, m *telemetry.Metrics) *SweepWorker {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &SweepWorker{sweeper: s, interval: interval, age: age, metrics: m}
}

// Name returns the worker identifier.
func (w *SweepWorker) Name() string { return "sweeper" }

// Run sweeps once at start, then on every tick until ctx is cancelled.
func (w *SweepWorker) Run(ctx context.Context) error {
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	age := w.age
	if age <= 0 {
		age = w.sweeper.SweepAge()
	}
	n, err := w.sweeper.Sweep(ctx, age)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}
	w.metrics.Swept(string(tcgcache.NamespaceAPI), n)
	if n > 0 {
		slog.LogAttrs(ctx, slog.LevelInfo, "swept expired entries",
			slog.Int("removed", n),
			slog.Duration("age", age),
		)
	}
}
