// Package app implements the catalog cache manager: the single owner of every
// cache tier, the coalescer, the hydrator and the interceptor lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	tcgcache "github.com/eugener/tcgcache/internal"
	"github.com/eugener/tcgcache/internal/cache"
	"github.com/eugener/tcgcache/internal/circuitbreaker"
	"github.com/eugener/tcgcache/internal/coalesce"
	"github.com/eugener/tcgcache/internal/freshness"
	"github.com/eugener/tcgcache/internal/hydrate"
	"github.com/eugener/tcgcache/internal/interceptor"
	"github.com/eugener/tcgcache/internal/keycodec"
	"github.com/eugener/tcgcache/internal/telemetry"
	"github.com/eugener/tcgcache/internal/upstream"
)

const (
	defaultSearchPageSize = 12
	randomPoolSize        = 250
	setListName           = "set_list"
)

var tracer = telemetry.Tracer("tcgcache/app")

// Options configures a Catalog. Memory, Persistent, Upstream and Policy are
// required; Interceptor and Metrics are optional.
type Options struct {
	Memory      *cache.Memory
	Persistent  *cache.Persistent
	Upstream    *upstream.Client
	Policy      *freshness.Policy
	Interceptor *interceptor.Interceptor
	Metrics     *telemetry.Metrics

	SearchPageSize     int
	HydratePageSize    int
	HydrateConcurrency int
	AllowedImageHosts  []string
}

// Catalog serves catalog lookups through memory, then persistent storage,
// then a coalesced upstream fetch, writing results back to both tiers.
type Catalog struct {
	mem     *cache.Memory
	disk    *cache.Persistent
	up      *upstream.Client
	policy  *freshness.Policy
	ic      *interceptor.Interceptor
	metrics *telemetry.Metrics

	pageSize   int
	imageHosts map[string]bool

	fetches coalesce.Group[tcgcache.Entry]
	prices  coalesce.Group[map[string]*float64]
	sets    *hydrate.Hydrator[tcgcache.Set]
}

// NewCatalog wires a Catalog. Call Init before serving and Close on shutdown.
func NewCatalog(opts Options) *Catalog {
	if opts.SearchPageSize <= 0 {
		opts.SearchPageSize = defaultSearchPageSize
	}
	hosts := make(map[string]bool, len(opts.AllowedImageHosts))
	for _, h := range opts.AllowedImageHosts {
		hosts[h] = true
	}
	c := &Catalog{
		mem:        opts.Memory,
		disk:       opts.Persistent,
		up:         opts.Upstream,
		policy:     opts.Policy,
		ic:         opts.Interceptor,
		metrics:    opts.Metrics,
		pageSize:   opts.SearchPageSize,
		imageHosts: hosts,
	}
	c.sets = hydrate.New(opts.Upstream.SetPages(), opts.Persistent, opts.Policy, hydrate.Options[tcgcache.Set]{
		Category:    tcgcache.CategorySetList,
		Name:        setListName,
		PageSize:    opts.HydratePageSize,
		Concurrency: opts.HydrateConcurrency,
		Identity:    func(s tcgcache.Set) (string, string) { return s.Name, s.ID },
		Metrics:     opts.Metrics,
	})
	return c
}

// Init installs and activates the interceptor. A failed manifest install is
// logged; the interceptor still activates with whatever it already holds.
func (c *Catalog) Init(ctx context.Context) error {
	if c.ic == nil {
		return nil
	}
	if err := c.ic.Install(ctx); err != nil {
		slog.Warn("interceptor install failed", "error", err)
	}
	if err := c.ic.Activate(ctx); err != nil {
		return fmt.Errorf("catalog init: %w", err)
	}
	return nil
}

// Close waits for background hydration and refreshes to finish.
func (c *Catalog) Close(ctx context.Context) error {
	var errs []error
	if err := c.sets.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close hydrator: %w", err))
	}
	if c.ic != nil {
		if err := c.ic.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close interceptor: %w", err))
		}
	}
	return errors.Join(errs...)
}

// fetchFunc performs one upstream request.
type fetchFunc func(ctx context.Context, ro upstream.RequestOptions) (*upstream.Response, error)

// transformFunc turns an upstream body into the payload stored in the tiers.
// An error marks the body as unusable; it is never cached.
type transformFunc func(body []byte) ([]byte, error)

// load resolves key through memory, persistent storage and the network.
func (c *Catalog) load(ctx context.Context, cat tcgcache.Category, key keycodec.Key, fetch fetchFunc, transform transformFunc) (lk tcgcache.Lookup[[]byte], err error) {
	ctx, span := tracer.Start(ctx, "catalog.load")
	defer func() {
		telemetry.EndSpan(span, err,
			attribute.String("category", string(cat)),
			attribute.String("source", string(lk.Source)),
			attribute.Bool("stale", lk.Stale),
		)
	}()
	k := string(key)

	mem, inMem := c.mem.Get(k)
	if inMem && c.policy.IsFresh(mem, cat) {
		c.metrics.Lookup("memory", string(cat), "hit")
		return hit(mem, tcgcache.SourceMemory), nil
	}
	c.metrics.Lookup("memory", string(cat), missOrStale(inMem))

	disk, onDisk := c.disk.Get(ctx, tcgcache.NamespaceAPI, k)
	if onDisk && c.policy.IsFresh(disk, cat) {
		c.metrics.Lookup("persistent", string(cat), "hit")
		c.mem.Set(k, disk)
		return hit(disk, tcgcache.SourcePersistent), nil
	}
	c.metrics.Lookup("persistent", string(cat), missOrStale(onDisk))

	stale, haveStale := newest(mem, inMem, disk, onDisk)

	e, shared, err := c.fetches.Do(ctx, k, func(ctx context.Context) (tcgcache.Entry, error) {
		return c.fetch(ctx, cat, k, stale, haveStale, fetch, transform)
	})
	if shared {
		c.metrics.Joined(string(cat))
	}
	if err == nil {
		return hit(e, tcgcache.SourceNetwork), nil
	}

	if haveStale && !errors.Is(err, tcgcache.ErrNotFound) {
		slog.LogAttrs(ctx, slog.LevelDebug, "revalidation failed, serving stale entry",
			slog.String("key", k),
			slog.Duration("age", c.policy.Age(stale)),
			slog.String("error", err.Error()),
		)
		lk = hit(stale, tcgcache.SourcePersistent)
		if inMem && stale.StoredAt.Equal(mem.StoredAt) {
			lk.Source = tcgcache.SourceMemory
		}
		lk.Stale = true
		return lk, nil
	}
	return tcgcache.Lookup[[]byte]{}, &tcgcache.FetchError{
		Op:     string(cat),
		Key:    k,
		Status: httpStatus(err),
		Err:    err,
	}
}

// fetch runs inside the coalesced call: one upstream request, then a write to
// both tiers on success.
func (c *Catalog) fetch(ctx context.Context, cat tcgcache.Category, key string, stale tcgcache.Entry, haveStale bool, fetch fetchFunc, transform transformFunc) (tcgcache.Entry, error) {
	start := time.Now()
	e, err := c.fetchEntry(ctx, key, stale, haveStale, fetch, transform)
	kind := ""
	if err != nil {
		kind = errorKind(err)
	}
	c.metrics.Upstream(string(cat), time.Since(start).Seconds(), kind)
	if err != nil {
		return tcgcache.Entry{}, err
	}

	c.mem.Set(key, e)
	c.disk.Set(ctx, tcgcache.NamespaceAPI, e)
	return e, nil
}

// fetchEntry asks upstream for key. The request always bypasses the
// interceptor's copy, which is only accepted as an offline fallback. With a
// stale entry it carries the entry's ETag and a 304 re-stamps it.
func (c *Catalog) fetchEntry(ctx context.Context, key string, stale tcgcache.Entry, haveStale bool, fetch fetchFunc, transform transformFunc) (tcgcache.Entry, error) {
	ro := upstream.RequestOptions{Revalidate: true}
	if haveStale {
		ro.ETag = stale.ETag
	}
	resp, err := fetch(ctx, ro)
	if err != nil {
		return tcgcache.Entry{}, err
	}
	// The interceptor answered from its own copy because the network failed.
	if resp.CacheStatus == interceptor.StatusOfflineFallback {
		return tcgcache.Entry{}, fmt.Errorf("%w: served from offline copy", tcgcache.ErrNetwork)
	}

	now := c.policy.Now()
	switch {
	case resp.NotModified && haveStale:
		e := stale
		e.StoredAt = now
		return e, nil
	case resp.NotModified:
		return tcgcache.Entry{}, fmt.Errorf("%w: 304 without a cached entry", tcgcache.ErrUpstreamData)
	}
	payload, err := transform(resp.Body)
	if err != nil {
		return tcgcache.Entry{}, err
	}
	return tcgcache.Entry{Key: key, Payload: payload, StoredAt: now, ETag: resp.ETag}, nil
}

func hit(e tcgcache.Entry, src tcgcache.Source) tcgcache.Lookup[[]byte] {
	return tcgcache.Lookup[[]byte]{Value: e.Payload, Source: src, StoredAt: e.StoredAt}
}

func newest(a tcgcache.Entry, okA bool, b tcgcache.Entry, okB bool) (tcgcache.Entry, bool) {
	switch {
	case okA && okB:
		if b.StoredAt.After(a.StoredAt) {
			return b, true
		}
		return a, true
	case okA:
		return a, true
	case okB:
		return b, true
	}
	return tcgcache.Entry{}, false
}

func missOrStale(present bool) string {
	if present {
		return "stale"
	}
	return "miss"
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, tcgcache.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, tcgcache.ErrNetwork):
		return "network"
	case errors.Is(err, tcgcache.ErrUpstreamData):
		return "data"
	default:
		return "other"
	}
}

func httpStatus(err error) int {
	var s interface{ HTTPStatus() int }
	if errors.As(err, &s) {
		return s.HTTPStatus()
	}
	return 0
}
