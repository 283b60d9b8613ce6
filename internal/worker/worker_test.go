package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/dnscache"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/cache"
	"github.com/eugener/tcgcache/internal/freshness"
	"github.com/eugener/tcgcache/internal/hydrate"
	"github.com/eugener/tcgcache/internal/telemetry"
	fakes "github.com/eugener/tcgcache/internal/testutil"
)

type fakeSweeper struct {
	mu    sync.Mutex
	ages  []time.Duration
	n     int
	err   error
	calls atomic.Int32
}

func (f *fakeSweeper) Sweep(_ context.Context, age time.Duration) (int, error) {
	f.mu.Lock()
	f.ages = append(f.ages, age)
	f.mu.Unlock()
	f.calls.Add(1)
	return f.n, f.err
}

func (f *fakeSweeper) SweepAge() time.Duration { return 96 * time.Hour }

func runUntil(t *testing.T, w Worker, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if !cond() {
		t.Fatal("condition not reached before cancel")
	}
}

func TestSweepWorker_DefaultAgeAndMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	s := &fakeSweeper{n: 3}

	w := NewSweepWorker(s, 10*time.Millisecond, 0, m)
	if w.Name() != "sweeper" {
		t.Errorf("name = %q", w.Name())
	}
	runUntil(t, w, func() bool { return s.calls.Load() >= 2 })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ages[0] != 96*time.Hour {
		t.Errorf("age = %v, want the sweeper's bound", s.ages[0])
	}
	var out dto.Metric
	if err := m.SweptEntries.WithLabelValues(string(tcgcache.NamespaceAPI)).Write(&out); err != nil {
		t.Fatal(err)
	}
	if got := out.GetCounter().GetValue(); got < 6 {
		t.Errorf("swept counter = %v, want >= 6", got)
	}
}

func TestSweepWorker_ExplicitAgeAndErrors(t *testing.T) {
	t.Parallel()
	s := &fakeSweeper{err: errors.New("disk gone")}

	// Failures are logged; the worker keeps running.
	w := NewSweepWorker(s, 10*time.Millisecond, time.Hour, nil)
	runUntil(t, w, func() bool { return s.calls.Load() >= 2 })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ages[0] != time.Hour {
		t.Errorf("age = %v, want 1h", s.ages[0])
	}
}

type hydratorLister struct {
	h *hydrate.Hydrator[tcgcache.Set]
}

func (l hydratorLister) Sets(ctx context.Context) (*hydrate.Run[tcgcache.Set], error) {
	return l.h.Hydrate(ctx)
}

func TestSetWarmer(t *testing.T) {
	t.Parallel()
	var fetches atomic.Int32
	fetcher := tcgcache.PageFetcherFunc[tcgcache.Set](func(context.Context, int, int) ([]tcgcache.Set, error) {
		fetches.Add(1)
		return []tcgcache.Set{{ID: "base1", Name: "Base"}}, nil
	})
	store := fakes.NewFakeStore()
	h := hydrate.New(fetcher, cache.NewPersistent(store, store, 1), freshness.New(nil), hydrate.Options[tcgcache.Set]{
		Category: tcgcache.CategorySetList,
		Identity: func(s tcgcache.Set) (string, string) { return s.Name, s.ID },
	})
	defer h.Close(context.Background())

	var events atomic.Int32
	defer h.Subscribe(func(hydrate.Event[tcgcache.Set]) { events.Add(1) })()

	w := NewSetWarmer(hydratorLister{h}, 10*time.Millisecond)
	if w.Name() != "set_warmer" {
		t.Errorf("name = %q", w.Name())
	}
	// Ticks after the first warm-up find a fresh listing and fetch nothing.
	ticks := 0
	runUntil(t, w, func() bool { ticks++; return events.Load() >= 1 && ticks > 10 })

	if n := fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestDNSRefreshWorker_StopOnCancel(t *testing.T) {
	t.Parallel()
	w := NewDNSRefreshWorker(&dnscache.Resolver{}, time.Millisecond)
	if w.Name() != "dns_refresh" {
		t.Errorf("name = %q", w.Name())
	}
	var polled atomic.Int32
	runUntil(t, w, func() bool { return polled.Add(1) > 3 })
}

func TestWorkerName(t *testing.T) {
	t.Parallel()
	if got := workerName(NewSweepWorker(&fakeSweeper{}, 0, 0, nil)); got != "sweeper" {
		t.Errorf("workerName = %q, want sweeper", got)
	}
	if got := workerName(failingWorker{}); got != "unknown" {
		t.Errorf("workerName = %q, want unknown", got)
	}
}
