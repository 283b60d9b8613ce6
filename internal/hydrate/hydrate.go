// Package hydrate loads paginated listings progressively: the first page is
// returned to the caller at once while the remaining pages are fetched in
// bounded concurrent batches, merged, persisted and published to subscribers.
package hydrate

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/coalesce"
	"github.com/eugener/tcgcache/internal/freshness"
	"github.com/eugener/tcgcache/internal/telemetry"
)

const (
	defaultPageSize    = 250
	defaultConcurrency = 6
	defaultMaxPages    = 200
)

// ErrSuperseded is returned by Run.Wait when a newer run for the same
// listing started before this one finished.
var ErrSuperseded = errors.New("hydrate: superseded by a newer run")

// Store is the durable home of hydrated listings.
type Store interface {
	GetNamed(ctx context.Context, name string, v any) (time.Time, bool)
	PutNamed(ctx context.Context, name string, v any, ts time.Time)
}

// Event is published once per completed, non-superseded run.
type Event[T any] struct {
	Category    tcgcache.Category
	RunID       string
	Items       []T
	CompletedAt time.Time
}

// Options configures a Hydrator.
type Options[T any] struct {
	Category    tcgcache.Category
	Name        string // named-store key, defaults to the category
	PageSize    int
	Concurrency int // pages fetched per batch
	MaxPages    int // hard stop for misbehaving upstreams
	Identity    IdentityFunc[T]
	Metrics     *telemetry.Metrics
}

// Hydrator drives progressive loads of one listing.
type Hydrator[T any] struct {
	fetcher tcgcache.PageFetcher[T]
	store   Store
	policy  *freshness.Policy
	opts    Options[T]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	starts coalesce.Group[*Run[T]]

	mu      sync.Mutex
	gen     uint64
	subs    map[uint64]func(Event[T])
	nextSub uint64
}

// New creates a Hydrator. Identity is required.
func New[T any](fetcher tcgcache.PageFetcher[T], store Store, policy *freshness.Policy, opts Options[T]) *Hydrator[T] {
	if opts.Name == "" {
		opts.Name = string(opts.Category)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hydrator[T]{
		fetcher: fetcher,
		store:   store,
		policy:  policy,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[uint64]func(Event[T])),
	}
}

// Subscribe registers fn for completion events. The returned function
// removes the subscription and is safe to call more than once.
func (h *Hydrator[T]) Subscribe(fn func(Event[T])) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Hydrate starts a load. A fresh persisted listing is returned complete with
// no fetch and no event. Otherwise page 1 is fetched synchronously and
// returned as the partial result while the remainder loads in the background.
// Callers arriving while page 1 is in flight share the same Run; a call made
// after it returned starts a newer run that supersedes the old one.
func (h *Hydrator[T]) Hydrate(ctx context.Context) (*Run[T], error) {
	run, _, err := h.starts.Do(ctx, h.opts.Name, h.start)
	return run, err
}

func (h *Hydrator[T]) start(ctx context.Context) (*Run[T], error) {
	var cached []T
	ts, haveCached := h.store.GetNamed(ctx, h.opts.Name, &cached)
	if haveCached && h.policy.IsFresh(tcgcache.Entry{StoredAt: ts}, h.opts.Category) {
		h.opts.Metrics.Hydrated(string(h.opts.Category), "fresh", len(cached))
		return completedRun("", cached, ts, false), nil
	}

	gen := h.nextGeneration()
	runID := uuid.Must(uuid.NewV7()).String()

	first, err := h.fetcher.FetchPage(ctx, 1, h.opts.PageSize)
	if err != nil {
		if haveCached {
			slog.LogAttrs(ctx, slog.LevelWarn, "hydrate first page failed, serving stale copy",
				slog.String("category", string(h.opts.Category)),
				slog.String("error", err.Error()),
			)
			h.opts.Metrics.Hydrated(string(h.opts.Category), "stale", len(cached))
			return completedRun(runID, cached, ts, true), nil
		}
		h.opts.Metrics.Hydrated(string(h.opts.Category), "failed", 0)
		return nil, &tcgcache.FetchError{
			Op:     "hydrate",
			Key:    h.opts.Name,
			Status: httpStatus(err),
			Err:    err,
		}
	}

	run := newRun[T](runID, first)
	if len(first) < h.opts.PageSize {
		// Page 1 is the whole listing.
		h.finish(ctx, run, gen, first)
		if run.err == nil {
			run.Partial, run.Complete, run.StoredAt = run.items, true, run.finished
		}
		return run, nil
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.remainder(run, gen, first)
	}()
	return run, nil
}

// Close cancels background runs and waits for them to exit.
func (h *Hydrator[T]) Close(ctx context.Context) error {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hydrator[T]) nextGeneration() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	return h.gen
}

func (h *Hydrator[T]) current(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen == gen
}

// remainder fetches pages 2.. in batches of Concurrency until a short page
// or MaxPages, then merges and publishes.
func (h *Hydrator[T]) remainder(run *Run[T], gen uint64, first []T) {
	ctx, span := telemetry.Tracer("tcgcache/hydrate").Start(h.ctx, "hydrate.remainder")
	all := slices.Clone(first)
	pages := 1
	var err error
	defer func() {
		telemetry.EndSpan(span, err,
			attribute.String("category", string(h.opts.Category)),
			attribute.Int("pages", pages),
		)
	}()

	k := h.opts.Concurrency
	for page := 2; page <= h.opts.MaxPages; page += k {
		batch := make([][]T, min(k, h.opts.MaxPages-page+1))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(k)
		for i := range batch {
			g.Go(func() error {
				items, err := h.fetcher.FetchPage(gctx, page+i, h.opts.PageSize)
				if err != nil {
					return err
				}
				batch[i] = items
				return nil
			})
		}
		if err = g.Wait(); err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "hydrate remainder failed",
				slog.String("category", string(h.opts.Category)),
				slog.String("run_id", run.ID),
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			h.opts.Metrics.Hydrated(string(h.opts.Category), "failed", 0)
			run.fail(err)
			return
		}

		short := false
		for _, items := range batch {
			all = append(all, items...)
			pages++
			if len(items) < h.opts.PageSize {
				short = true
			}
		}
		if short {
			break
		}
	}

	h.finish(ctx, run, gen, all)
}

// finish merges items, then persists and publishes unless gen was superseded.
func (h *Hydrator[T]) finish(ctx context.Context, run *Run[T], gen uint64, items []T) {
	merged := Merge(items, h.opts.Identity)
	if !h.current(gen) {
		slog.LogAttrs(ctx, slog.LevelDebug, "hydrate run superseded",
			slog.String("category", string(h.opts.Category)),
			slog.String("run_id", run.ID),
		)
		h.opts.Metrics.Hydrated(string(h.opts.Category), "superseded", 0)
		run.fail(ErrSuperseded)
		return
	}

	now := h.policy.Now()
	h.store.PutNamed(ctx, h.opts.Name, merged, now)
	run.complete(merged, now)
	h.opts.Metrics.Hydrated(string(h.opts.Category), "published", len(merged))

	h.publish(Event[T]{
		Category:    h.opts.Category,
		RunID:       run.ID,
		Items:       merged,
		CompletedAt: now,
	})
}

func (h *Hydrator[T]) publish(ev Event[T]) {
	h.mu.Lock()
	fns := make([]func(Event[T]), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func httpStatus(err error) int {
	var s interface{ HTTPStatus() int }
	if errors.As(err, &s) {
		return s.HTTPStatus()
	}
	return 0
}
